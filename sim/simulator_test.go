package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fifteenMinuteSection has blocks a 40 km/h train crosses in exactly 15
// minutes, which keeps tick arithmetic exact at the default 0.5 step.
func fifteenMinuteSection(t *testing.T, blockIDs ...string) *Section {
	t.Helper()
	blocks := make([]*Block, 0, len(blockIDs))
	for _, id := range blockIDs {
		blocks = append(blocks, &Block{ID: id, LengthKM: 10, MaxSpeedKMPH: 40, Direction: DirectionBi})
	}
	section, err := NewSection("S", blocks, 3)
	require.NoError(t, err)
	return section
}

func eventsOfType(events []Event, kind EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestSimulate_ZeroTrains(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{})

	states, kpis, events, err := engine.Simulate(context.Background(), nil, 60, nil, nil)
	require.NoError(t, err)

	assert.Empty(t, states)
	assert.Equal(t, 0, kpis.CompletedTrains)
	assert.Zero(t, kpis.SectionUtilization)
	assert.Zero(t, kpis.Throughput)

	require.Len(t, events, 2, "zero-train run logs only the start and end records")
	assert.Equal(t, EventSystem, events[0].Type)
	assert.Equal(t, EventSystem, events[1].Type)
}

func TestSimulate_SingleTrainCompletesOnTime(t *testing.T) {
	section := fifteenMinuteSection(t, "B1", "B2")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1", "B2"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{})

	states, kpis, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, nil, nil)
	require.NoError(t, err)

	require.Len(t, states, 1)
	st := states[0]
	assert.True(t, st.Finished)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.Location)
	assert.InDelta(t, 0.0, st.DelayMin, 1e-9)

	assert.Equal(t, 1, kpis.CompletedTrains)
	assert.InDelta(t, 100.0, kpis.OnTimePerformance, 1e-9)
	assert.InDelta(t, 100.0, kpis.SafetyScore, 1e-9)
	assert.InDelta(t, 0.5, kpis.Throughput, 1e-9, "one train over two simulated hours")

	departures := eventsOfType(events, EventDeparture)
	require.Len(t, departures, 1)
	assert.InDelta(t, 0.0, departures[0].TimestampMin, 1e-9)

	completions := eventsOfType(events, EventCompletion)
	require.Len(t, completions, 1)
	assert.InDelta(t, 30.0, completions[0].TimestampMin, 1e-9)
	assert.Equal(t, SeverityInfo, completions[0].Severity)
}

func TestSimulate_EventTimestampsMonotonic(t *testing.T) {
	section := fifteenMinuteSection(t, "B1", "B2")
	trains := []*Train{
		{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1", "B2"}, Direction: DirectionUp, DepTimeMin: 0},
		{ID: "T2", Priority: 2, MaxSpeedKMPH: 40, Route: []string{"B1", "B2"}, Direction: DirectionUp, DepTimeMin: 0},
	}
	engine := NewSimulator(section, Config{})

	_, _, events, err := engine.Simulate(context.Background(), trains, 240, nil, nil)
	require.NoError(t, err)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].TimestampMin, events[i-1].TimestampMin)
	}
}

func TestSimulate_LowerPriorityTrainWaits(t *testing.T) {
	// Both trains want the single block at once; the priority-2 train
	// departs only after the leader's window plus headway.
	section := fifteenMinuteSection(t, "B1")
	lead := &Train{ID: "LEAD", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	follow := &Train{ID: "FOLLOW", Priority: 2, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{})

	states, kpis, events, err := engine.Simulate(context.Background(), []*Train{lead, follow}, 120, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, kpis.CompletedTrains)

	departures := eventsOfType(events, EventDeparture)
	require.Len(t, departures, 2)
	byTrain := map[string]float64{}
	for _, ev := range departures {
		byTrain[ev.TrainID] = ev.TimestampMin
	}
	assert.InDelta(t, 0.0, byTrain["LEAD"], 1e-9)
	assert.InDelta(t, 18.0, byTrain["FOLLOW"], 1e-9, "15 min traversal + 3 min headway")

	// The follower's 18 minutes of waiting is real delay.
	for _, st := range states {
		if st.Train.ID == "FOLLOW" {
			assert.InDelta(t, 18.0, st.DelayMin, 1e-9)
		}
	}
	assert.InDelta(t, 50.0, kpis.OnTimePerformance, 1e-9)
}

func TestSimulate_TrainDelayDisruptionReplans(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 10}
	engine := NewSimulator(section, Config{})

	disruptions := []Disruption{
		{TimeMin: 0, Kind: DisruptionTrainDelay, TrainID: "T1", DelayMin: 10},
	}
	states, _, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, disruptions, nil)
	require.NoError(t, err)

	require.Len(t, eventsOfType(events, EventDisruption), 1)

	departures := eventsOfType(events, EventDeparture)
	require.Len(t, departures, 1)
	assert.InDelta(t, 20.0, departures[0].TimestampMin, 1e-9, "replanned departure honors the shifted offset")

	// Delay is measured against the original departure offset.
	assert.InDelta(t, 10.0, states[0].DelayMin, 1e-9)
}

func TestSimulate_UnknownTrainDisruptionIsInert(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{})

	disruptions := []Disruption{
		{TimeMin: 5, Kind: DisruptionTrainDelay, TrainID: "GHOST", DelayMin: 30},
	}
	states, kpis, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, disruptions, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, kpis.CompletedTrains)
	assert.InDelta(t, 0.0, states[0].DelayMin, 1e-9, "the real train is untouched")

	disruptionEvents := eventsOfType(events, EventDisruption)
	require.Len(t, disruptionEvents, 1)
	assert.Contains(t, disruptionEvents[0].Message, "unknown train")
}

func TestSimulate_BlockFailureHoldsTrain(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{})

	disruptions := []Disruption{
		{TimeMin: 0, Kind: DisruptionBlockFailure, BlockID: "B1", DurationMin: 10},
	}
	states, _, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, disruptions, nil)
	require.NoError(t, err)

	departures := eventsOfType(events, EventDeparture)
	require.Len(t, departures, 1)
	assert.InDelta(t, 10.0, departures[0].TimestampMin, 1e-9, "train enters once the outage clears")
	assert.InDelta(t, 10.0, states[0].DelayMin, 1e-9)

	holds := eventsOfType(events, EventWarning)
	assert.NotEmpty(t, holds, "every held tick records the hold")
}

func TestSimulate_ObserverStopHonoredAtTickBoundary(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{SnapshotEveryMin: 1})

	snapshots := 0
	obs := ObserverFunc(func(s Snapshot) bool {
		snapshots++
		assert.NotEmpty(t, s.RunID)
		return snapshots < 3
	})

	_, kpis, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, nil, obs)
	require.NoError(t, err)

	assert.Equal(t, 3, snapshots)
	assert.Equal(t, 0, kpis.CompletedTrains, "run stopped long before the 15 minute traversal")

	var stopped bool
	for _, ev := range eventsOfType(events, EventSystem) {
		if ev.Message == "simulation stopped by observer request" {
			stopped = true
		}
	}
	assert.True(t, stopped)
}

func TestSimulate_SnapshotStatesAreCopies(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	engine := NewSimulator(section, Config{SnapshotEveryMin: 1})

	var first *Snapshot
	obs := ObserverFunc(func(s Snapshot) bool {
		if first == nil {
			first = &s
			// Mutating the received snapshot must not reach the engine.
			s.States[0].DelayMin = 9999
			s.States[0].Finished = true
		}
		return true
	})

	states, _, _, err := engine.Simulate(context.Background(), []*Train{train}, 120, nil, obs)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, states[0].Finished)
	assert.InDelta(t, 0.0, states[0].DelayMin, 1e-9)
}

func TestSimulate_ContextCancellation(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, events, err := engine.Simulate(ctx, nil, 60, nil, nil)
	require.NoError(t, err)

	var cancelled bool
	for _, ev := range events {
		if ev.Message == "simulation cancelled" {
			cancelled = true
		}
	}
	assert.True(t, cancelled)
}

func TestSimulate_RejectsBadInput(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{})

	_, _, _, err := engine.Simulate(context.Background(), nil, -1, nil, nil)
	assert.Error(t, err)

	bad := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"NOPE"}, Direction: DirectionUp}
	_, _, _, err = engine.Simulate(context.Background(), []*Train{bad}, 60, nil, nil)
	assert.Error(t, err)
}

func TestCheckSchedule_HardStopAborts(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{SafetyPolicy: PolicyHardStop})

	a := &Train{ID: "A", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp}
	b := &Train{ID: "B", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp}
	schedule := NewScheduleDecision()
	schedule.SetEntry("A", "B1", 0)
	schedule.SetEntry("B", "B1", 5)

	r := &run{schedule: schedule}
	aborted := engine.checkSchedule(r, []*Train{a, b}, 0, false)
	assert.True(t, aborted)

	var abortLogged bool
	for _, ev := range r.log.events {
		if ev.Type == EventError && ev.Severity == SeverityError {
			abortLogged = true
		}
	}
	assert.True(t, abortLogged)
}

func TestCheckSchedule_AdvisoryContinues(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{})

	a := &Train{ID: "A", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp}
	b := &Train{ID: "B", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp}
	schedule := NewScheduleDecision()
	schedule.SetEntry("A", "B1", 0)
	schedule.SetEntry("B", "B1", 5)

	r := &run{schedule: schedule}
	aborted := engine.checkSchedule(r, []*Train{a, b}, 0, false)
	assert.False(t, aborted)
	assert.NotEmpty(t, r.log.events, "criticals are logged even when advisory")
}

func TestSimulate_SnapshotTrainDetachedFromRunState(t *testing.T) {
	// The first snapshot is taken before the disruption fires; the
	// departure offset it carries must not change when the engine later
	// shifts the live train's.
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 10}
	engine := NewSimulator(section, Config{})

	var first *Snapshot
	obs := ObserverFunc(func(s Snapshot) bool {
		if first == nil {
			first = &s
		}
		return true
	})

	disruptions := []Disruption{
		{TimeMin: 5, Kind: DisruptionTrainDelay, TrainID: "T1", DelayMin: 10},
	}
	_, _, _, err := engine.Simulate(context.Background(), []*Train{train}, 120, disruptions, obs)
	require.NoError(t, err)

	require.NotNil(t, first)
	assert.InDelta(t, 10.0, first.States[0].Train.DepTimeMin, 1e-9, "captured before the disruption")
	assert.InDelta(t, 20.0, train.DepTimeMin, 1e-9, "live train was shifted")
}

func TestSimulate_ConcurrentObserverReadsDelayedDeparture(t *testing.T) {
	// A consumer goroutine reads Train fields off snapshots while a
	// disruption mutates the live train. Snapshots carry copies, so this
	// is race-free; the post-disruption snapshots show the new offset.
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 10}
	engine := NewSimulator(section, Config{SnapshotEveryMin: 1})

	obs := NewChannelObserver(256)
	last := make(chan float64, 1)
	go func() {
		var dep float64
		for snap := range obs.Snapshots() {
			dep = snap.States[0].Train.DepTimeMin
		}
		last <- dep
	}()

	disruptions := []Disruption{
		{TimeMin: 5, Kind: DisruptionTrainDelay, TrainID: "T1", DelayMin: 10},
	}
	_, _, _, err := engine.Simulate(context.Background(), []*Train{train}, 60, disruptions, obs)
	require.NoError(t, err)
	obs.Close()

	assert.Equal(t, 0, obs.Dropped)
	assert.InDelta(t, 20.0, <-last, 1e-9)
}

func TestSimulate_NegativeDelayDisruptionIgnored(t *testing.T) {
	section := fifteenMinuteSection(t, "B1")
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 40, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 10}
	engine := NewSimulator(section, Config{})

	disruptions := []Disruption{
		{TimeMin: 0, Kind: DisruptionTrainDelay, TrainID: "T1", DelayMin: -10},
	}
	states, _, events, err := engine.Simulate(context.Background(), []*Train{train}, 120, disruptions, nil)
	require.NoError(t, err)

	disruptionEvents := eventsOfType(events, EventDisruption)
	require.Len(t, disruptionEvents, 1)
	assert.Contains(t, disruptionEvents[0].Message, "negative delay")

	// The departure never moves backward.
	departures := eventsOfType(events, EventDeparture)
	require.Len(t, departures, 1)
	assert.InDelta(t, 10.0, departures[0].TimestampMin, 1e-9)
	assert.InDelta(t, 0.0, states[0].DelayMin, 1e-9)
}

func TestSimulate_SnapshotCadenceWithUnalignedStep(t *testing.T) {
	// A 1 minute cadence over a 0.4 minute step has no aligned tick, so
	// snapshots fire on the first tick past each mark and never early.
	section := fifteenMinuteSection(t, "B1")
	engine := NewSimulator(section, Config{TimeStepMin: 0.4, SnapshotEveryMin: 1})

	var clocks []float64
	obs := ObserverFunc(func(s Snapshot) bool {
		clocks = append(clocks, s.ClockMin)
		return true
	})

	_, _, _, err := engine.Simulate(context.Background(), nil, 3, nil, obs)
	require.NoError(t, err)

	require.Len(t, clocks, 3)
	assert.InDelta(t, 0.0, clocks[0], 1e-9)
	assert.InDelta(t, 1.2, clocks[1], 1e-9)
	assert.InDelta(t, 2.0, clocks[2], 1e-9)
	for i := 1; i < len(clocks); i++ {
		assert.GreaterOrEqual(t, clocks[i]-clocks[i-1], 1.0-1e-9, "never fires inside the cadence window")
	}
}
