package sim

import "github.com/sirupsen/logrus"

// EventType labels what happened at a point in simulated time.
type EventType string

const (
	EventSystem     EventType = "SYSTEM"
	EventDeparture  EventType = "DEPARTURE"
	EventArrival    EventType = "ARRIVAL"
	EventCrossing   EventType = "CROSSING"
	EventWarning    EventType = "WARNING"
	EventError      EventType = "ERROR"
	EventDisruption EventType = "DISRUPTION"
	EventCompletion EventType = "COMPLETION"
)

// EventSeverity grades an event for reporting and the safety score.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "INFO"
	SeverityWarn     EventSeverity = "WARNING"
	SeverityError    EventSeverity = "ERROR"
	SeverityCritical EventSeverity = "CRITICAL"
)

// Event is one append-only log record of a simulation run. Timestamps
// are non-decreasing within a run.
type Event struct {
	TimestampMin float64       `json:"timestamp_min"`
	Type         EventType     `json:"type"`
	TrainID      string        `json:"train_id,omitempty"`
	BlockID      string        `json:"block_id,omitempty"`
	Message      string        `json:"message"`
	Severity     EventSeverity `json:"severity"`
}

// eventLog owns the append-only event slice for one run and echoes each
// record through logrus.
type eventLog struct {
	events []Event
}

func (l *eventLog) append(ev Event) {
	l.events = append(l.events, ev)
	switch ev.Severity {
	case SeverityWarn:
		logrus.Warnf("[%07.1f] %s %s", ev.TimestampMin, ev.Type, ev.Message)
	case SeverityError, SeverityCritical:
		logrus.Errorf("[%07.1f] %s %s", ev.TimestampMin, ev.Type, ev.Message)
	default:
		logrus.Infof("[%07.1f] %s %s", ev.TimestampMin, ev.Type, ev.Message)
	}
}

// recent returns a copy of the last n events.
func (l *eventLog) recent(n int) []Event {
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}
