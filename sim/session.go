package sim

// Snapshot is a copied view of one run at a tick boundary. Observers
// receive snapshots, never live references: the engine's state stays
// owned by a single execution context.
type Snapshot struct {
	RunID    string       `json:"run_id"`
	ClockMin float64      `json:"clock_min"`
	States   []TrainState `json:"states"`
	KPIs     KPIs         `json:"kpis"`
	Recent   []Event      `json:"recent_events"`
}

// Observer receives periodic snapshots during a run. The return value is
// an advisory continue signal: false asks the engine to stop, honored at
// the next tick boundary, never mid-transition. Observers must not
// re-enter the engine.
type Observer interface {
	OnSnapshot(Snapshot) bool
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Snapshot) bool

func (f ObserverFunc) OnSnapshot(s Snapshot) bool { return f(s) }

// MultiObserver fans one snapshot out to several observers. The run
// continues only while every observer agrees; all observers still see
// every snapshot regardless.
type MultiObserver []Observer

func (m MultiObserver) OnSnapshot(s Snapshot) bool {
	cont := true
	for _, o := range m {
		if !o.OnSnapshot(s) {
			cont = false
		}
	}
	return cont
}

// ChannelObserver delivers snapshots over a bounded channel to an
// external consumer without ever blocking the engine: when the consumer
// falls behind, snapshots are dropped. Stop requests a cooperative stop
// that the engine honors at the next tick boundary.
type ChannelObserver struct {
	ch      chan Snapshot
	stop    chan struct{}
	Dropped int
}

// NewChannelObserver creates an observer with the given channel capacity.
func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{
		ch:   make(chan Snapshot, buffer),
		stop: make(chan struct{}),
	}
}

// Snapshots is the consumer side. Closed when the run ends.
func (c *ChannelObserver) Snapshots() <-chan Snapshot {
	return c.ch
}

// Stop signals the engine to stop at the next tick boundary. Safe to
// call more than once.
func (c *ChannelObserver) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Close releases the snapshot channel. Call it once Simulate has
// returned so consumers ranging over Snapshots terminate.
func (c *ChannelObserver) Close() {
	close(c.ch)
}

func (c *ChannelObserver) OnSnapshot(s Snapshot) bool {
	select {
	case c.ch <- s:
	default:
		c.Dropped++
	}
	select {
	case <-c.stop:
		return false
	default:
		return true
	}
}
