package sim

import (
	"fmt"
	"sort"
)

// ViolationKind classifies a detected safety condition.
type ViolationKind string

const (
	ViolationCollision ViolationKind = "COLLISION_RISK"
	ViolationHeadway   ViolationKind = "INSUFFICIENT_HEADWAY"
	ViolationHeadOn    ViolationKind = "HEAD_ON_COLLISION_RISK"
)

// ViolationSeverity grades a violation. Only critical violations make a
// schedule unsafe.
type ViolationSeverity string

const (
	ViolationCritical ViolationSeverity = "critical"
	ViolationWarning  ViolationSeverity = "warning"
)

// Violation is one detected conflict between two trains on a block.
// Violations are data, not errors: validation always returns a
// structured result and never raises.
type Violation struct {
	TrainA   string            `json:"train_a"`
	TrainB   string            `json:"train_b"`
	BlockID  string            `json:"block_id"`
	TimeMin  float64           `json:"time_min"`
	Kind     ViolationKind     `json:"kind"`
	Severity ViolationSeverity `json:"severity"`
	Message  string            `json:"message"`
}

// Validator re-derives occupancy from any schedule and flags overlap,
// insufficient-headway and head-on conditions. It never trusts scheduler
// state: windows are recomputed from the schedule's entry times alone,
// so it works against stale or hand-built schedules too.
type Validator struct {
	section *Section
}

// NewValidator binds a validator to a section.
func NewValidator(section *Section) *Validator {
	return &Validator{section: section}
}

// directed is an occupancy interval annotated with travel direction,
// used by the head-on check.
type directed struct {
	interval
	direction Direction
}

// Validate checks a schedule for safety violations. The boolean result
// is true iff no violation is critical.
func (v *Validator) Validate(schedule *ScheduleDecision, trains []*Train) (bool, []Violation) {
	var violations []Violation

	occupancy := v.buildOccupancy(schedule, trains)
	for _, blockID := range v.sortedBlockIDs(occupancy) {
		timeline := occupancy[blockID]
		sort.SliceStable(timeline, func(i, j int) bool {
			if timeline[i].entryMin != timeline[j].entryMin {
				return timeline[i].entryMin < timeline[j].entryMin
			}
			return timeline[i].trainID < timeline[j].trainID
		})

		for i := 0; i+1 < len(timeline); i++ {
			first, second := timeline[i], timeline[i+1]
			gap := second.entryMin - first.exitMin
			switch {
			case gap < 0:
				violations = append(violations, Violation{
					TrainA:   first.trainID,
					TrainB:   second.trainID,
					BlockID:  blockID,
					TimeMin:  second.entryMin,
					Kind:     ViolationCollision,
					Severity: ViolationCritical,
					Message: fmt.Sprintf("trains %s and %s occupy block %s simultaneously (overlap %.1f min)",
						first.trainID, second.trainID, blockID, -gap),
				})
			case gap < v.section.HeadwayMin:
				// gap == headway is exactly safe.
				violations = append(violations, Violation{
					TrainA:   first.trainID,
					TrainB:   second.trainID,
					BlockID:  blockID,
					TimeMin:  second.entryMin,
					Kind:     ViolationHeadway,
					Severity: ViolationWarning,
					Message: fmt.Sprintf("only %.1f min headway between %s and %s at block %s (min %.1f)",
						gap, first.trainID, second.trainID, blockID, v.section.HeadwayMin),
				})
			}
		}
	}

	violations = append(violations, v.checkHeadOn(schedule, trains)...)

	isSafe := true
	for _, viol := range violations {
		if viol.Severity == ViolationCritical {
			isSafe = false
			break
		}
	}
	return isSafe, violations
}

// buildOccupancy recomputes each train's occupancy window per block from
// the schedule's entry times.
func (v *Validator) buildOccupancy(schedule *ScheduleDecision, trains []*Train) map[string][]interval {
	occupancy := make(map[string][]interval)
	for _, train := range trains {
		for _, blockID := range train.Route {
			entry, ok := schedule.Entry(train.ID, blockID)
			if !ok {
				continue
			}
			block, ok := v.section.Block(blockID)
			if !ok {
				continue
			}
			occupancy[blockID] = append(occupancy[blockID], interval{
				entryMin: entry,
				exitMin:  OccupancyWindow(train, block, entry),
				trainID:  train.ID,
			})
		}
	}
	return occupancy
}

// sortedBlockIDs fixes the block iteration order so violation lists come
// out identical across runs.
func (v *Validator) sortedBlockIDs(occupancy map[string][]interval) []string {
	ids := make([]string, 0, len(occupancy))
	for id := range occupancy {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkHeadOn flags opposite-direction trains with overlapping windows
// on blocks lacking a crossing facility. Every pair is checked, not just
// adjacent ones: opposite-direction intervals are not ordered by entry
// time the way same-direction ones are.
func (v *Validator) checkHeadOn(schedule *ScheduleDecision, trains []*Train) []Violation {
	var violations []Violation

	timelines := make(map[string][]directed)
	for _, train := range trains {
		for _, blockID := range train.Route {
			entry, ok := schedule.Entry(train.ID, blockID)
			if !ok {
				continue
			}
			block, ok := v.section.Block(blockID)
			if !ok {
				continue
			}
			// Only trains physically permitted on the block take part.
			if block.Direction != DirectionBi && block.Direction != train.Direction {
				continue
			}
			timelines[blockID] = append(timelines[blockID], directed{
				interval: interval{
					entryMin: entry,
					exitMin:  OccupancyWindow(train, block, entry),
					trainID:  train.ID,
				},
				direction: train.Direction,
			})
		}
	}

	for _, blockID := range func() []string {
		ids := make([]string, 0, len(timelines))
		for id := range timelines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}() {
		block, _ := v.section.Block(blockID)
		if block.HasStation() {
			// A loop is a crossing facility; opposing trains can pass.
			continue
		}
		timeline := timelines[blockID]
		for i := 0; i < len(timeline); i++ {
			for j := i + 1; j < len(timeline); j++ {
				a, b := timeline[i], timeline[j]
				if a.direction == b.direction {
					continue
				}
				if a.exitMin <= b.entryMin || b.exitMin <= a.entryMin {
					continue
				}
				violations = append(violations, Violation{
					TrainA:   a.trainID,
					TrainB:   b.trainID,
					BlockID:  blockID,
					TimeMin:  max(a.entryMin, b.entryMin),
					Kind:     ViolationHeadOn,
					Severity: ViolationCritical,
					Message: fmt.Sprintf("opposing trains %s (%s) and %s (%s) meet at block %s with no crossing facility",
						a.trainID, a.direction, b.trainID, b.direction, blockID),
				})
			}
		}
	}
	return violations
}

// VerifyClearance reports whether no train's recomputed occupancy window
// at the block contains the given time. This is the live gate the engine
// consults before any physical block entry, independent of the
// precomputed schedule's claims.
func (v *Validator) VerifyClearance(blockID string, timeMin float64, schedule *ScheduleDecision, trains []*Train) bool {
	block, ok := v.section.Block(blockID)
	if !ok {
		return false
	}
	for _, train := range trains {
		entry, ok := schedule.Entry(train.ID, blockID)
		if !ok {
			continue
		}
		exit := OccupancyWindow(train, block, entry)
		if entry <= timeMin && timeMin < exit {
			return false
		}
	}
	return true
}
