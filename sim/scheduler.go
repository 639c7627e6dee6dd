package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// interval is one committed occupancy of a block by a train.
type interval struct {
	entryMin float64
	exitMin  float64
	trainID  string
}

// Optimizer plans conflict-aware entry times over a section using a
// priority-ordered greedy pass. Pure and deterministic: the same trains
// and clock always yield the same ScheduleDecision, and a committed
// interval is never revisited within one Optimize call — later trains
// only delay themselves.
type Optimizer struct {
	section *Section
}

// NewOptimizer binds an optimizer to a section.
func NewOptimizer(section *Section) *Optimizer {
	return &Optimizer{section: section}
}

// Optimize schedules trains by precedence, respecting headway and the
// occupancy already committed by earlier-processed trains. now is the
// earliest admissible entry time (the current clock on re-optimization).
func (o *Optimizer) Optimize(trains []*Train, now float64) (*ScheduleDecision, error) {
	for _, t := range trains {
		if err := o.section.ValidateRoute(t.Route); err != nil {
			return nil, fmt.Errorf("train %s: %w", t.ID, err)
		}
	}

	// Precedence policy: priority, then departure, then id. Once a train
	// is processed its intervals are fixed.
	ordered := make([]*Train, len(trains))
	copy(ordered, trains)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		if ordered[i].DepTimeMin != ordered[j].DepTimeMin {
			return ordered[i].DepTimeMin < ordered[j].DepTimeMin
		}
		return ordered[i].ID < ordered[j].ID
	})

	schedule := NewScheduleDecision()
	occupancy := make(map[string][]interval)

	for _, train := range ordered {
		o.scheduleTrain(train, occupancy, schedule, now)
	}
	return schedule, nil
}

// scheduleTrain walks one train's route, pushing its entry past any
// committed interval it would not clear by at least the headway, and
// commits the resulting windows.
func (o *Optimizer) scheduleTrain(train *Train, occupancy map[string][]interval, schedule *ScheduleDecision, now float64) {
	entry := max(train.DepTimeMin, now)

	for _, blockID := range train.Route {
		block, _ := o.section.Block(blockID)

		// Bumping only moves entry forward, so one pass over the
		// committed intervals is enough: a cleared interval stays cleared.
		for _, occ := range occupancy[blockID] {
			if entry < occ.exitMin+o.section.HeadwayMin {
				entry = occ.exitMin + o.section.HeadwayMin
			}
		}

		exit := OccupancyWindow(train, block, entry)
		schedule.SetEntry(train.ID, blockID, entry)
		occupancy[blockID] = append(occupancy[blockID], interval{entryMin: entry, exitMin: exit, trainID: train.ID})
		logrus.Debugf("plan: train %s block %s [%.2f, %.2f)", train.ID, blockID, entry, exit)

		entry = exit
	}
}

// ResolveCrossing decides which of two trains converging on the same
// loop proceeds first. Lower priority number wins; ties resolve by
// earlier departure, then by id.
func ResolveCrossing(a, b *Train) (proceeds, waits *Train) {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return a, b
		}
		return b, a
	}
	if a.DepTimeMin != b.DepTimeMin {
		if a.DepTimeMin < b.DepTimeMin {
			return a, b
		}
		return b, a
	}
	if a.ID <= b.ID {
		return a, b
	}
	return b, a
}
