package sim

import "fmt"

// Direction of travel over a block, as seen from the section's block order.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	// DirectionBi marks a block open to traffic both ways.
	DirectionBi Direction = "bi"
)

// Block is the minimal track segment: one occupant at a time unless it
// carries a loop. Immutable after section construction.
type Block struct {
	ID           string    `json:"id" yaml:"id"`
	LengthKM     float64   `json:"length_km" yaml:"length_km"`
	MaxSpeedKMPH float64   `json:"max_speed_kmph" yaml:"max_speed_kmph"`
	Direction    Direction `json:"direction" yaml:"direction"`
	// Station is the station name if the block is (or carries) a
	// station/passing loop; empty otherwise.
	Station string `json:"station,omitempty" yaml:"station,omitempty"`
	// LoopCapacity is the number of trains that can wait at the loop.
	// Only meaningful on station blocks.
	LoopCapacity int `json:"loop_capacity,omitempty" yaml:"loop_capacity,omitempty"`
}

// HasStation reports whether the block offers a crossing facility.
func (b *Block) HasStation() bool {
	return b.Station != ""
}

// Section is an ordered chain of blocks sharing one headway rule.
// It owns its blocks; routes reference them by id.
type Section struct {
	ID         string
	Blocks     []*Block
	HeadwayMin float64

	blockMap map[string]*Block
}

// NewSection validates the static track layout. All configuration errors
// are reported here, never at runtime.
func NewSection(id string, blocks []*Block, headwayMin float64) (*Section, error) {
	if id == "" {
		return nil, fmt.Errorf("section id must not be empty")
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("section %s has no blocks", id)
	}
	if headwayMin < 0 {
		return nil, fmt.Errorf("section %s: headway must be >= 0, got %v", id, headwayMin)
	}
	blockMap := make(map[string]*Block, len(blocks))
	for _, b := range blocks {
		if b.ID == "" {
			return nil, fmt.Errorf("section %s: block with empty id", id)
		}
		if _, dup := blockMap[b.ID]; dup {
			return nil, fmt.Errorf("section %s: duplicate block id %s", id, b.ID)
		}
		if b.LengthKM <= 0 {
			return nil, fmt.Errorf("block %s: length must be > 0, got %v", b.ID, b.LengthKM)
		}
		if b.MaxSpeedKMPH <= 0 {
			return nil, fmt.Errorf("block %s: max speed must be > 0, got %v", b.ID, b.MaxSpeedKMPH)
		}
		switch b.Direction {
		case DirectionUp, DirectionDown, DirectionBi:
		default:
			return nil, fmt.Errorf("block %s: unknown direction %q", b.ID, b.Direction)
		}
		if b.HasStation() && b.LoopCapacity < 1 {
			return nil, fmt.Errorf("block %s: station block needs loop capacity >= 1, got %d", b.ID, b.LoopCapacity)
		}
		blockMap[b.ID] = b
	}
	return &Section{ID: id, Blocks: blocks, HeadwayMin: headwayMin, blockMap: blockMap}, nil
}

// Block looks up a block by id.
func (s *Section) Block(id string) (*Block, bool) {
	b, ok := s.blockMap[id]
	return b, ok
}

// ValidateRoute checks that a route is non-empty and references only
// blocks owned by the section.
func (s *Section) ValidateRoute(route []string) error {
	if len(route) == 0 {
		return fmt.Errorf("empty route")
	}
	for _, id := range route {
		if _, ok := s.blockMap[id]; !ok {
			return fmt.Errorf("route references unknown block %s", id)
		}
	}
	return nil
}

// Train is a scheduled movement over a route of block ids. Immutable
// except DepTimeMin, which disruptions may shift forward.
type Train struct {
	ID string
	// Priority orders precedence: lower number wins.
	Priority     int
	MaxSpeedKMPH float64
	DwellMin     float64
	Route        []string
	Direction    Direction
	DepTimeMin   float64
	Type         string
}

// TravelTime is the run time (minutes) of a train over a block, limited
// by the slower of the train and the block.
func TravelTime(t *Train, b *Block) float64 {
	return b.LengthKM / min(t.MaxSpeedKMPH, b.MaxSpeedKMPH) * 60
}

// OccupancyWindow returns the exit time for a train entering a block at
// entryMin. Every component derives occupancy from this one formula;
// scheduler, validator and engine must agree on the window for the same
// (train, block, entry) triple.
func OccupancyWindow(t *Train, b *Block, entryMin float64) float64 {
	exit := entryMin + TravelTime(t, b)
	if b.HasStation() {
		exit += t.DwellMin
	}
	return exit
}

// TrainStatus is the run-time state machine position of a train.
type TrainStatus string

const (
	StatusWaiting   TrainStatus = "waiting_to_depart"
	StatusInTransit TrainStatus = "in_transit"
	StatusCompleted TrainStatus = "completed"
)

// TrainState is the mutable per-run record for one train. Created at
// simulation start, mutated only by the engine, discarded at run end.
type TrainState struct {
	Train      *Train
	Status     TrainStatus
	RouteIndex int
	// EntryTimeMin is the clock at which the train entered its current
	// block; meaningless while waiting.
	EntryTimeMin float64
	Finished     bool
	DelayMin     float64
	// Location is the id of the occupied block, empty if none.
	Location string
	// BaselineDepMin is the departure offset at run start, before any
	// disruption shifted it. Delay is measured against this.
	BaselineDepMin float64
}

// ScheduleDecision records planned entry times per train per block.
// Built once per Optimize call, read-only afterwards. Entries along one
// train's route are non-decreasing by construction.
type ScheduleDecision struct {
	Entries map[string]map[string]float64 `json:"entries" yaml:"entries"`
}

// NewScheduleDecision returns an empty decision.
func NewScheduleDecision() *ScheduleDecision {
	return &ScheduleDecision{Entries: make(map[string]map[string]float64)}
}

// SetEntry records the planned entry of a train into a block.
func (sd *ScheduleDecision) SetEntry(trainID, blockID string, entryMin float64) {
	m, ok := sd.Entries[trainID]
	if !ok {
		m = make(map[string]float64)
		sd.Entries[trainID] = m
	}
	m[blockID] = entryMin
}

// Entry returns the planned entry time of a train into a block, if any.
func (sd *ScheduleDecision) Entry(trainID, blockID string) (float64, bool) {
	t, ok := sd.Entries[trainID][blockID]
	return t, ok
}
