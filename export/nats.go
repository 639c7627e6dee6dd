package export

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/section-sim/section-sim/sim"
)

// Publisher pushes run snapshots to a NATS subject as JSON. It
// implements sim.Observer and never asks the engine to stop: publish
// failures are counted and logged, not propagated into the run.
type Publisher struct {
	nc      *nats.Conn
	subject string
	metrics PublisherMetrics
}

// NewPublisher connects to a NATS server. metrics may be nil.
func NewPublisher(url, subject string, m PublisherMetrics) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("section-sim"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			logrus.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			logrus.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			logrus.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &Publisher{nc: nc, subject: subject, metrics: m}, nil
}

// OnSnapshot implements sim.Observer.
func (p *Publisher) OnSnapshot(s sim.Snapshot) bool {
	payload, err := json.Marshal(s)
	if err != nil {
		logrus.Errorf("marshal snapshot: %v", err)
		return true
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		if p.metrics != nil {
			p.metrics.PublishErrInc()
		}
		logrus.Errorf("publish snapshot: %v", err)
		return true
	}
	if p.metrics != nil {
		p.metrics.PublishedInc()
	}
	return true
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
