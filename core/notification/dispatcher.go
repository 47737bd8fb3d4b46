package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var nowFunc = time.Now // mockable

type (
	Dispatcher struct {
		repo        Repository
		hub         *Hub
		broadcaster Broadcaster
		metrics     Metrics
		logger      core.Logger
		locks       *core.KeyedMutex
	}

	Option func(d *Dispatcher)
)

// WithBroadcaster relays messages through b instead of delivering them to the local hub directly.
func WithBroadcaster(b Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(repo Repository, hub *Hub, logger core.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:   repo,
		hub:    hub,
		logger: logger,
		locks:  core.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	hub.OnEvict = func(recipientID string) {
		d.degraded(core.NewDeliveryDegradedError(recipientID, errors.New("slow consumer evicted")))
	}
	return d
}

// Publish persists one message per recipient of n and pushes the newly created ones to their live sessions.
// Publishing the same event twice is a no-op for recipients that already have their message.
// Push failures are logged as delivery degradations: they never fail the call once messages are stored.
func (d *Dispatcher) Publish(ctx context.Context, n Notice) ([]Message, error) {
	if n.EventID == "" {
		return nil, errors.New("notice without event id")
	}

	created := make([]Message, 0, len(n.Recipients))
	for _, rcpt := range uniqueParties(n.Recipients) {
		msg, isNew, err := d.publishOne(ctx, n, rcpt)
		if err != nil {
			return created, errors.Wrapf(err, "publishing to %s", rcpt.ID)
		}
		if isNew {
			created = append(created, msg)
		}
	}
	if d.metrics != nil && len(created) > 0 {
		d.metrics.IncPublished(len(created))
	}
	return created, nil
}

// publishOne stores & pushes under the recipient lock so that pushes follow creation order.
func (d *Dispatcher) publishOne(ctx context.Context, n Notice, rcpt Party) (Message, bool, error) {
	unlock := d.locks.Lock(rcpt.ID)
	defer unlock()

	msg, isNew, err := d.repo.CreateMessage(ctx, Message{
		ID:                 uuid.NewString(),
		Type:               n.Type,
		EventID:            n.EventID,
		Message:            n.Message,
		CreatedAt:          nowFunc().UTC(),
		AttendanceRecordID: n.RecordID,
		Sender:             n.Sender,
		Receiver:           rcpt,
	})
	if err != nil || !isNew {
		return msg, isNew, err
	}

	if d.broadcaster != nil {
		if err = d.broadcaster.Broadcast(ctx, msg); err == nil {
			return msg, true, nil
		}
		// local sessions still get it
		d.degraded(core.NewDeliveryDegradedError(rcpt.ID, errors.Wrap(err, "broadcasting")), msg)
	}
	d.hub.Deliver(msg)
	return msg, true, nil
}

func (d *Dispatcher) degraded(err error, ctx ...interface{}) {
	if d.metrics != nil {
		d.metrics.IncDegraded()
	}
	d.logger.Warn(fmt.Sprintf("notification: %v", err), append([]interface{}{err}, ctx...)...)
}

// Deliver pushes an already persisted message to the local hub. Used by broadcaster listeners.
func (d *Dispatcher) Deliver(msg Message) int {
	return d.hub.Deliver(msg)
}

// Subscribe registers a live session without replay.
func (d *Dispatcher) Subscribe(recipientID string) *Subscription {
	return d.hub.Subscribe(recipientID)
}

// Connect registers a live session and replays the unread backlog of recipientID ahead of live messages.
func (d *Dispatcher) Connect(ctx context.Context, recipientID string) (*Session, error) {
	// subscribe first so that nothing published during the replay query is missed
	sub := d.hub.Subscribe(recipientID)

	backlog, err := d.repo.ListUnread(ctx, recipientID)
	if err != nil {
		sub.Close()
		return nil, errors.Wrap(err, "listing unread notifications")
	}
	seen := make(map[string]struct{}, len(backlog))
	for _, msg := range backlog {
		seen[msg.ID] = struct{}{}
	}
	return &Session{sub: sub, backlog: backlog, seen: seen}, nil
}

func (d *Dispatcher) ListUnread(ctx context.Context, recipientID string) ([]Message, error) {
	msgs, err := d.repo.ListUnread(ctx, recipientID)
	if err != nil {
		return nil, errors.Wrap(err, "listing unread notifications")
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, recipientID, id string) error {
	return d.repo.MarkRead(ctx, recipientID, id)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	return d.repo.MarkAllRead(ctx, recipientID)
}

func uniqueParties(parties []Party) []Party {
	seen := make(map[string]struct{}, len(parties))
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		if p.ID == "" {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
