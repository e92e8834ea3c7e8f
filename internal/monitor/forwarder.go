package monitor

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/PiotrGNN/kraken/internal/events"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "kraken.events."

// Publisher is the slice of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Forwarder relays bus events to NATS as JSON envelopes.
type Forwarder struct {
	bus *events.Bus
	pub Publisher
	log *logrus.Entry
}

// NewForwarder creates a forwarder.
func NewForwarder(bus *events.Bus, pub Publisher) *Forwarder {
	return &Forwarder{bus: bus, pub: pub, log: logrus.WithField("component", "forwarder")}
}

// DialNATS connects with bounded reconnects.
func DialNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("kraken"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// Run forwards until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	stream, unsub := f.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			f.forward(env)
		}
	}
}

func (f *Forwarder) forward(env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		f.log.WithError(err).WithField("type", env.Type).Warn("encode event failed")
		return
	}
	if err := f.pub.Publish(SubjectPrefix+string(env.Type), data); err != nil {
		f.log.WithError(err).WithField("type", env.Type).Warn("publish event failed")
	}
}
