// README: NATS subject backing for multi-process fan-out.
package broadcast

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const DefaultNATSSubject = "floortwin.events"

type NATSRelay struct {
	conn    *nats.Conn
	subject string
	hub     *Hub
	log     logrus.FieldLogger
}

func NewNATSRelay(conn *nats.Conn, subject string, hub *Hub, log logrus.FieldLogger) *NATSRelay {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if log == nil {
		log = hub.log
	}
	return &NATSRelay{conn: conn, subject: subject, hub: hub, log: log.WithField("relay", "nats")}
}

func (r *NATSRelay) Publish(_ context.Context, e Event, topics ...Topic) error {
	data, err := encodeEnvelope(e, topics)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", r.subject, err)
	}
	return nil
}

// Run subscribes to the subject and blocks until ctx is cancelled. NATS
// delivers messages of one subscription in order on a single goroutine.
func (r *NATSRelay) Run(ctx context.Context) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		if err := deliverEnvelope(ctx, r.hub, msg.Data); err != nil {
			r.log.WithError(err).Warn("dropping malformed relay message")
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", r.subject, err)
	}
	r.log.WithField("subject", r.subject).Info("relay subscribed")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
