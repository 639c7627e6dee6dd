package sim

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SafetyPolicy selects how the engine reacts to critical violations
// found while a run is in progress.
type SafetyPolicy string

const (
	// PolicyAdvisory logs violations, degrades the safety score and
	// keeps running.
	PolicyAdvisory SafetyPolicy = "advisory"
	// PolicyHardStop aborts the run on the first critical violation.
	PolicyHardStop SafetyPolicy = "hard-stop"
)

// Config carries the engine knobs. Zero values fall back to defaults.
type Config struct {
	// TimeStepMin is the simulated minutes per tick (default 0.5).
	TimeStepMin float64
	// SnapshotEveryMin is the observer cadence (default 10).
	SnapshotEveryMin float64
	// SnapshotEvents is how many trailing events a snapshot carries
	// (default 10).
	SnapshotEvents int
	// SafetyPolicy defaults to PolicyAdvisory.
	SafetyPolicy SafetyPolicy
}

func (c Config) withDefaults() Config {
	if c.TimeStepMin <= 0 {
		c.TimeStepMin = 0.5
	}
	if c.SnapshotEveryMin <= 0 {
		c.SnapshotEveryMin = 10
	}
	if c.SnapshotEvents <= 0 {
		c.SnapshotEvents = 10
	}
	if c.SafetyPolicy == "" {
		c.SafetyPolicy = PolicyAdvisory
	}
	return c
}

// Simulator replays a plan through discrete time, gating every physical
// block entry through the validator, handling disruptions and
// aggregating KPIs. Scheduling and validation stay pure; all mutable
// run state lives in a per-run object created inside Simulate, so a
// Simulator can be reused across runs.
type Simulator struct {
	section   *Section
	cfg       Config
	optimizer *Optimizer
	validator *Validator
}

// NewSimulator builds an engine over a section.
func NewSimulator(section *Section, cfg Config) *Simulator {
	return &Simulator{
		section:   section,
		cfg:       cfg.withDefaults(),
		optimizer: NewOptimizer(section),
		validator: NewValidator(section),
	}
}

// run owns all mutable state of one simulation: the engine never keeps
// state across Simulate calls and observers only ever see copies.
type run struct {
	id       string
	clock    float64
	maxTime  float64
	trains   []*Train
	states   map[string]*TrainState
	schedule *ScheduleDecision
	// occupancy maps block id to the id of its current occupant ("" = free).
	occupancy map[string]string
	busyMin   map[string]float64
	// distanceKM/transitMin accrue per train while in transit.
	distanceKM map[string]float64
	transitMin map[string]float64
	log        eventLog
	kpis       KPIs
	outages    outageTable
	applied    []bool
}

// Simulate runs trains against the section until maxTimeMin is reached,
// every train finished, the observer asks to stop, or ctx is cancelled.
// Cancellation and stop requests are honored only at tick boundaries.
// obs may be nil. Returned states follow the input train order.
func (s *Simulator) Simulate(ctx context.Context, trains []*Train, maxTimeMin float64,
	disruptions []Disruption, obs Observer) ([]*TrainState, KPIs, []Event, error) {
	if maxTimeMin < 0 {
		return nil, KPIs{}, nil, fmt.Errorf("max time must be >= 0, got %v", maxTimeMin)
	}

	schedule, err := s.optimizer.Optimize(trains, 0)
	if err != nil {
		return nil, KPIs{}, nil, err
	}

	r := &run{
		id:         uuid.NewString(),
		maxTime:    maxTimeMin,
		trains:     trains,
		states:     make(map[string]*TrainState, len(trains)),
		schedule:   schedule,
		occupancy:  make(map[string]string, len(s.section.Blocks)),
		busyMin:    make(map[string]float64, len(s.section.Blocks)),
		distanceKM: make(map[string]float64, len(trains)),
		transitMin: make(map[string]float64, len(trains)),
		outages:    make(outageTable),
		applied:    make([]bool, len(disruptions)),
	}
	for _, b := range s.section.Blocks {
		r.occupancy[b.ID] = ""
	}
	for _, t := range trains {
		r.states[t.ID] = &TrainState{
			Train:          t,
			Status:         StatusWaiting,
			BaselineDepMin: t.DepTimeMin,
		}
	}
	r.kpis.TotalTrains = len(trains)

	r.log.append(Event{TimestampMin: 0, Type: EventSystem, Severity: SeverityInfo,
		Message: fmt.Sprintf("simulation started with %d trains on section %s", len(trains), s.section.ID)})

	// Pre-flight validation. Skipped for an empty fleet so a zero-train
	// run logs exactly the start and end records.
	if len(trains) > 0 {
		if aborted := s.checkSchedule(r, trains, 0, false); aborted {
			return s.finish(r)
		}
	}

	// Snapshots fire on the first tick at or past each cadence mark, so
	// a cadence that is not a multiple of the step never fires early.
	nextSnapMin := 0.0

	for clock := 0.0; clock <= maxTimeMin; clock += s.cfg.TimeStepMin {
		r.clock = clock

		if ctx.Err() != nil {
			r.log.append(Event{TimestampMin: clock, Type: EventSystem, Severity: SeverityInfo,
				Message: "simulation cancelled"})
			break
		}

		if stop := s.applyDisruptions(r, disruptions, clock); stop {
			break
		}

		active := 0
		for _, t := range trains {
			st := r.states[t.ID]
			if !st.Finished && st.Location != "" {
				active++
			}
		}
		r.kpis.ActiveTrains = active

		for _, t := range trains {
			st := r.states[t.ID]
			if st.Finished {
				continue
			}
			if st.Location == "" {
				s.tryDepart(r, st, clock)
			} else {
				s.advance(r, st, clock)
			}
		}

		for blockID, occupant := range r.occupancy {
			if occupant != "" {
				r.busyMin[blockID] += s.cfg.TimeStepMin
			}
		}

		if obs != nil && clock >= nextSnapMin {
			nextSnapMin += s.cfg.SnapshotEveryMin
			if !obs.OnSnapshot(s.snapshot(r)) {
				r.log.append(Event{TimestampMin: clock, Type: EventSystem, Severity: SeverityInfo,
					Message: "simulation stopped by observer request"})
				break
			}
		}
	}

	return s.finish(r)
}

// checkSchedule validates the current schedule against the given trains
// and logs the outcome. postDisruption switches the event shape used by
// mid-run re-validation. Returns true when the hard-stop policy aborts.
func (s *Simulator) checkSchedule(r *run, trains []*Train, clock float64, postDisruption bool) bool {
	isSafe, violations := s.validator.Validate(r.schedule, trains)
	if isSafe {
		if !postDisruption {
			r.log.append(Event{TimestampMin: clock, Type: EventSystem, Severity: SeverityInfo,
				Message: "schedule validated: no collision risks detected"})
		}
		return false
	}
	for _, v := range violations {
		if v.Severity != ViolationCritical {
			continue
		}
		if postDisruption {
			r.log.append(Event{TimestampMin: clock, Type: EventWarning, BlockID: v.BlockID,
				TrainID: v.TrainA, Severity: SeverityWarn,
				Message: "post-disruption: " + v.Message})
		} else {
			r.log.append(Event{TimestampMin: clock, Type: EventError, BlockID: v.BlockID,
				TrainID: v.TrainA, Severity: SeverityCritical, Message: v.Message})
		}
	}
	if s.cfg.SafetyPolicy == PolicyHardStop {
		r.log.append(Event{TimestampMin: clock, Type: EventError, Severity: SeverityError,
			Message: "critical violations under hard-stop policy: aborting run"})
		return true
	}
	return false
}

// applyDisruptions fires every due, not-yet-applied disruption. A
// train_delay shifts the departure and re-plans the unfinished trains
// from the current clock; a block_failure opens an outage window.
// Returns true when a post-disruption validation aborts the run.
func (s *Simulator) applyDisruptions(r *run, disruptions []Disruption, clock float64) bool {
	for i, d := range disruptions {
		if r.applied[i] || clock < d.TimeMin {
			continue
		}
		r.applied[i] = true

		switch d.Kind {
		case DisruptionTrainDelay:
			if d.DelayMin < 0 {
				// Departures only ever shift forward.
				r.log.append(Event{TimestampMin: clock, Type: EventDisruption, TrainID: d.TrainID,
					Severity: SeverityWarn,
					Message:  fmt.Sprintf("ignoring train_delay with negative delay %.1f min for train %s", d.DelayMin, d.TrainID)})
				continue
			}
			st, ok := r.states[d.TrainID]
			if !ok {
				// Unknown train ids are inert: logged, never an error.
				r.log.append(Event{TimestampMin: clock, Type: EventDisruption, TrainID: d.TrainID,
					Severity: SeverityWarn,
					Message:  fmt.Sprintf("ignoring train_delay for unknown train %s", d.TrainID)})
				continue
			}
			st.Train.DepTimeMin += d.DelayMin
			r.log.append(Event{TimestampMin: clock, Type: EventDisruption, TrainID: d.TrainID,
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("train %s delayed by %.1f min", d.TrainID, d.DelayMin)})

			if stop := s.reoptimize(r, clock); stop {
				return true
			}

		case DisruptionBlockFailure:
			if _, ok := s.section.Block(d.BlockID); !ok {
				r.log.append(Event{TimestampMin: clock, Type: EventDisruption, BlockID: d.BlockID,
					Severity: SeverityWarn,
					Message:  fmt.Sprintf("ignoring block_failure for unknown block %q", d.BlockID)})
				continue
			}
			r.outages.fail(d.BlockID, clock, d.DurationMin)
			msg := fmt.Sprintf("block %s out of service", d.BlockID)
			if d.DurationMin > 0 {
				msg = fmt.Sprintf("%s for %.1f min", msg, d.DurationMin)
			}
			r.log.append(Event{TimestampMin: clock, Type: EventDisruption, BlockID: d.BlockID,
				Severity: SeverityWarn, Message: msg})

		default:
			r.log.append(Event{TimestampMin: clock, Type: EventDisruption, Severity: SeverityWarn,
				Message: fmt.Sprintf("ignoring disruption of unknown kind %q", d.Kind)})
		}
	}
	return false
}

// reoptimize re-plans the unfinished trains with the current clock as
// the new floor and re-validates the result. Committed history is not
// revisited: finished trains keep their past, unfinished ones get fresh
// entries.
func (s *Simulator) reoptimize(r *run, clock float64) bool {
	var active []*Train
	for _, t := range r.trains {
		if !r.states[t.ID].Finished {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return false
	}
	schedule, err := s.optimizer.Optimize(active, clock)
	if err != nil {
		// Routes were validated at run start; this cannot regress.
		logrus.Errorf("re-optimization failed: %v", err)
		return false
	}
	r.schedule = schedule
	return s.checkSchedule(r, active, clock, true)
}

// tryDepart moves a waiting train into its first block once the clock,
// the schedule, the clearance gate and physical occupancy all allow it.
// A failed gate leaves the train waiting and records the hold; the entry
// is retried every tick, never abandoned.
func (s *Simulator) tryDepart(r *run, st *TrainState, clock float64) {
	train := st.Train
	if clock < train.DepTimeMin {
		return
	}
	first := train.Route[0]
	entry, ok := r.schedule.Entry(train.ID, first)
	if !ok || clock < entry {
		return
	}
	if !s.admit(r, st, first, clock) {
		return
	}
	r.occupancy[first] = train.ID
	st.Location = first
	st.Status = StatusInTransit
	st.EntryTimeMin = clock
	r.log.append(Event{TimestampMin: clock, Type: EventDeparture, TrainID: train.ID, BlockID: first,
		Severity: SeverityInfo, Message: fmt.Sprintf("train %s departed from %s", train.ID, first)})
}

// advance progresses an in-transit train: accrues distance, vacates the
// block once its occupancy window has elapsed, and either enters the
// next block, holds, or completes the journey.
func (s *Simulator) advance(r *run, st *TrainState, clock float64) {
	train := st.Train
	block, _ := s.section.Block(st.Location)

	travel := TravelTime(train, block)
	r.distanceKM[train.ID] += block.LengthKM * s.cfg.TimeStepMin / travel
	r.transitMin[train.ID] += s.cfg.TimeStepMin

	total := travel
	if block.HasStation() {
		total += train.DwellMin
	}
	if clock < st.EntryTimeMin+total {
		return
	}

	// Window elapsed: the train is ready to leave this block.
	next := st.RouteIndex + 1
	if next >= len(train.Route) {
		s.complete(r, st, block, clock)
		return
	}

	nextBlock := train.Route[next]
	entry, ok := r.schedule.Entry(train.ID, nextBlock)
	if !ok || clock < entry {
		return
	}
	if !s.admit(r, st, nextBlock, clock) {
		// The train holds in (and keeps occupying) its current block.
		return
	}

	if block.HasStation() {
		r.log.append(Event{TimestampMin: clock, Type: EventArrival, TrainID: train.ID, BlockID: block.ID,
			Severity: SeverityInfo, Message: fmt.Sprintf("train %s arrived at station %s", train.ID, block.Station)})
	}

	r.occupancy[block.ID] = ""
	r.occupancy[nextBlock] = train.ID
	st.Location = nextBlock
	st.RouteIndex = next
	st.EntryTimeMin = clock

	if other := s.crossingPartner(r, st, nextBlock); other != nil {
		proceeds, _ := ResolveCrossing(train, other)
		r.log.append(Event{TimestampMin: clock, Type: EventCrossing, TrainID: train.ID, BlockID: nextBlock,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("trains %s and %s cross at %s (%s proceeds)", train.ID, other.ID, nextBlock, proceeds.ID)})
	}
}

// admit runs the live entry gate for a block: in service, clear per the
// schedule-independent check, and physically unoccupied. Failures log a
// warning hold event.
func (s *Simulator) admit(r *run, st *TrainState, blockID string, clock float64) bool {
	train := st.Train
	if !r.outages.available(blockID, clock) {
		r.log.append(Event{TimestampMin: clock, Type: EventWarning, TrainID: train.ID, BlockID: blockID,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("block %s out of service: %s holding", blockID, train.ID)})
		return false
	}
	if !s.clearedFor(r, train.ID, blockID, clock) {
		r.log.append(Event{TimestampMin: clock, Type: EventWarning, TrainID: train.ID, BlockID: blockID,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("block %s not clear for %s: safety hold", blockID, train.ID)})
		return false
	}
	if occupant := r.occupancy[blockID]; occupant != "" {
		r.log.append(Event{TimestampMin: clock, Type: EventWarning, TrainID: train.ID, BlockID: blockID,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("block %s occupied by %s: %s holding", blockID, occupant, train.ID)})
		return false
	}
	return true
}

// clearedFor is VerifyClearance with the candidate train excluded: a
// train's own scheduled window must not veto its own entry.
func (s *Simulator) clearedFor(r *run, trainID, blockID string, clock float64) bool {
	block, _ := s.section.Block(blockID)
	for _, t := range r.trains {
		if t.ID == trainID {
			continue
		}
		entry, ok := r.schedule.Entry(t.ID, blockID)
		if !ok {
			continue
		}
		if entry <= clock && clock < OccupancyWindow(t, block, entry) {
			return false
		}
	}
	return true
}

// crossingPartner returns another unfinished train whose remaining route
// includes the block, if any: two trains converging on one block make it
// a crossing point worth logging.
func (s *Simulator) crossingPartner(r *run, st *TrainState, blockID string) *Train {
	for _, t := range r.trains {
		if t.ID == st.Train.ID {
			continue
		}
		other := r.states[t.ID]
		if other.Finished {
			continue
		}
		for i := other.RouteIndex; i < len(t.Route); i++ {
			if t.Route[i] == blockID {
				return t
			}
		}
	}
	return nil
}

// complete finishes a train's journey and accounts its delay against
// the ideal run time from the original departure offset.
func (s *Simulator) complete(r *run, st *TrainState, lastBlock *Block, clock float64) {
	train := st.Train
	if lastBlock.HasStation() {
		r.log.append(Event{TimestampMin: clock, Type: EventArrival, TrainID: train.ID, BlockID: lastBlock.ID,
			Severity: SeverityInfo, Message: fmt.Sprintf("train %s arrived at station %s", train.ID, lastBlock.Station)})
	}
	r.occupancy[lastBlock.ID] = ""
	st.Location = ""
	st.Status = StatusCompleted
	st.Finished = true

	// Ideal completion: per-block travel+dwell summed along the route,
	// offset by the departure time the train originally held.
	ideal := st.BaselineDepMin
	for _, blockID := range train.Route {
		b, _ := s.section.Block(blockID)
		ideal += OccupancyWindow(train, b, 0)
	}

	st.DelayMin = max(0, clock-ideal)
	r.kpis.CompletedTrains++
	r.kpis.TotalDelayMin += st.DelayMin
	r.kpis.MaxDelayMin = max(r.kpis.MaxDelayMin, st.DelayMin)

	severity := SeverityInfo
	if st.DelayMin >= onTimeThresholdMin {
		severity = SeverityWarn
	}
	r.log.append(Event{TimestampMin: clock, Type: EventCompletion, TrainID: train.ID,
		Severity: severity,
		Message:  fmt.Sprintf("train %s completed journey, delay %.1f min", train.ID, st.DelayMin)})
}

// snapshot copies the run state for an external observer. No live
// references escape: the Train record is copied too, since disruptions
// mutate DepTimeMin mid-run and observers may read from another
// goroutine. Route is immutable after run start and may stay shared.
func (s *Simulator) snapshot(r *run) Snapshot {
	states := make([]TrainState, 0, len(r.trains))
	for _, t := range r.trains {
		st := *r.states[t.ID]
		train := *st.Train
		st.Train = &train
		states = append(states, st)
	}
	return Snapshot{
		RunID:    r.id,
		ClockMin: r.clock,
		States:   states,
		KPIs:     r.kpis,
		Recent:   r.log.recent(s.cfg.SnapshotEvents),
	}
}

// finish finalizes KPIs, logs the end record and assembles the result.
func (s *Simulator) finish(r *run) ([]*TrainState, KPIs, []Event, error) {
	var busy, transit float64
	for _, m := range r.busyMin {
		busy += m
	}
	for _, m := range r.transitMin {
		transit += m
	}
	var delays []float64
	active := 0
	for _, t := range r.trains {
		st := r.states[t.ID]
		if st.Finished {
			delays = append(delays, st.DelayMin)
		} else if st.Location != "" {
			active++
		}
		r.kpis.TotalDistanceKM += r.distanceKM[t.ID]
	}
	r.kpis.ActiveTrains = active

	critical, warning := 0, 0
	for _, ev := range r.log.events {
		switch ev.Severity {
		case SeverityCritical:
			critical++
		case SeverityWarn:
			warning++
		}
	}
	r.kpis.finalize(len(s.section.Blocks), r.maxTime, busy, transit, delays, critical, warning)

	r.log.append(Event{TimestampMin: r.clock, Type: EventSystem, Severity: SeverityInfo,
		Message: fmt.Sprintf("simulation completed after %.1f minutes", r.clock)})

	states := make([]*TrainState, 0, len(r.trains))
	for _, t := range r.trains {
		states = append(states, r.states[t.ID])
	}
	return states, r.kpis, r.log.events, nil
}
