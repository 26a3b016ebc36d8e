// Package bus provides the in-process event bus the Discussion Engine and
// Simulation Scheduler use to coordinate across suspension points: an
// embedded single-node NATS server, so no external broker deployment is
// ever required.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType names the lifecycle events the bus carries.
type EventType string

const (
	EventSectorTick         EventType = "sector.tick"
	EventDiscussionStarted  EventType = "discussion.started"
	EventRoundCompleted     EventType = "discussion.round.completed"
	EventChecklistFinalized EventType = "discussion.checklist.finalized"
	EventManagerDecision    EventType = "discussion.manager.decision"
	EventDiscussionDecided  EventType = "discussion.decided"
	EventDiscussionClosed   EventType = "discussion.closed"
)

// Event is one published lifecycle notification.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	SectorID  string          `json:"sectorId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes one received Event.
type Handler func(evt Event)

const subjectPrefix = "tradesim.events."

// Bus wraps an embedded, single-node NATS server and a client connection
// to it. No external NATS deployment is ever dialed: the server only
// listens on an in-process / localhost port this process itself opened.
type Bus struct {
	server *server.Server
	nc     *nats.Conn
	log    zerolog.Logger
}

// Config tunes the embedded server. Port is passed to nats-server as is:
// -1 picks a random free port, while 0 means its default port (4222).
type Config struct {
	Port int
}

// New starts an embedded NATS server and connects a client to it.
func New(cfg Config) (*Bus, error) {
	opts := &server.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: false,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server did not become ready within 5s")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("tradesim"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded nats server: %w", err)
	}

	b := &Bus{
		server: ns,
		nc:     nc,
		log:    log.With().Str("component", "bus").Logger(),
	}
	b.log.Info().Str("url", ns.ClientURL()).Msg("embedded event bus started")
	return b, nil
}

// Publish sends evt on its type's subject. Failures are logged and
// swallowed: the bus is a coordination convenience, not a durability
// guarantee — persistence, not messaging, is the system of record.
func (b *Bus) Publish(evt Event) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn().Err(err).Str("type", string(evt.Type)).Msg("failed to marshal event")
		return
	}

	subject := subjectPrefix + string(evt.Type)
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// Subscribe registers handler for every event of typ, returning an
// unsubscribe function.
func (b *Bus) Subscribe(typ EventType, handler Handler) (func(), error) {
	subject := subjectPrefix + string(typ)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.log.Warn().Err(err).Str("subject", subject).Msg("failed to unmarshal event")
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Drain flushes in-flight publishes/subscriptions, then closes the client
// connection and shuts the embedded server down. Call during graceful
// shutdown.
func (b *Bus) Drain(ctx context.Context) error {
	if err := b.nc.Drain(); err != nil {
		b.log.Warn().Err(err).Msg("error draining bus connection")
	}
	done := make(chan struct{})
	go func() {
		b.server.Shutdown()
		b.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
