package sim

// DisruptionKind names the supported disruption record kinds.
type DisruptionKind string

const (
	// DisruptionTrainDelay shifts a train's departure forward and forces
	// a restricted re-optimization over the unfinished trains.
	DisruptionTrainDelay DisruptionKind = "train_delay"
	// DisruptionBlockFailure takes a block out of service for a window:
	// the entry gate fails while the outage is open, holding trains at
	// their current position until it clears.
	DisruptionBlockFailure DisruptionKind = "block_failure"
)

// Disruption is one externally injected perturbation. TrainID/DelayMin
// apply to train_delay; BlockID/DurationMin to block_failure
// (DurationMin == 0 keeps the block out for the rest of the run).
type Disruption struct {
	TimeMin     float64        `json:"time_min" yaml:"time_min"`
	Kind        DisruptionKind `json:"kind" yaml:"kind"`
	TrainID     string         `json:"train_id,omitempty" yaml:"train_id,omitempty"`
	DelayMin    float64        `json:"delay_min,omitempty" yaml:"delay_min,omitempty"`
	BlockID     string         `json:"block_id,omitempty" yaml:"block_id,omitempty"`
	DurationMin float64        `json:"duration_min,omitempty" yaml:"duration_min,omitempty"`
}

// outage is an open block-failure window.
type outage struct {
	fromMin float64
	// untilMin <= fromMin means no scheduled end.
	untilMin float64
}

// outageTable tracks failed blocks over simulated time.
type outageTable map[string]outage

func (o outageTable) fail(blockID string, fromMin, durationMin float64) {
	until := fromMin
	if durationMin > 0 {
		until = fromMin + durationMin
	}
	o[blockID] = outage{fromMin: fromMin, untilMin: until}
}

// available reports whether a block is in service at the given clock.
func (o outageTable) available(blockID string, clockMin float64) bool {
	out, ok := o[blockID]
	if !ok || clockMin < out.fromMin {
		return true
	}
	if out.untilMin <= out.fromMin {
		return false // open-ended outage
	}
	return clockMin >= out.untilMin
}
