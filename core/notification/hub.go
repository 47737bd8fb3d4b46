package notification

import (
	"context"
	"sync"
)

const defaultSendBuffer = 64

// Subscription is one live session (e.g. one browser tab) of a recipient.
// Its channel is closed when the subscription is closed or evicted.
type Subscription struct {
	RecipientID string

	id  uint64
	ch  chan Message
	hub *Hub
}

// Messages returns the ordered stream of messages pushed to this session.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Close removes the subscription from its hub. Safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s) }

// Hub is the in-process subscription table: recipient ID -> zero or more live sessions.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int

	// OnEvict is called (outside the lock) for sessions dropped because they could not keep up.
	OnEvict func(recipientID string)
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

func (h *Hub) Subscribe(recipientID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		RecipientID: recipientID,
		id:          h.nextID,
		ch:          make(chan Message, h.buffer),
		hub:         h,
	}
	sessions, ok := h.subs[recipientID]
	if !ok {
		sessions = make(map[uint64]*Subscription)
		h.subs[recipientID] = sessions
	}
	sessions[sub.id] = sub
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) bool {
	sessions, ok := h.subs[sub.RecipientID]
	if !ok {
		return false
	}
	if _, ok = sessions[sub.id]; !ok {
		return false
	}
	delete(sessions, sub.id)
	if len(sessions) == 0 {
		delete(h.subs, sub.RecipientID)
	}
	close(sub.ch)
	return true
}

// Deliver pushes msg to every live session of its receiver and returns how many got it.
// Sessions whose buffer is full are evicted: their client reconnects and replays the unread backlog.
func (h *Hub) Deliver(msg Message) int {
	var (
		delivered int
		evicted   int
	)

	h.mu.Lock()
	for _, sub := range h.subs[msg.Receiver.ID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			if h.removeLocked(sub) {
				evicted++
			}
		}
	}
	h.mu.Unlock()

	if h.OnEvict != nil {
		for i := 0; i < evicted; i++ {
			h.OnEvict(msg.Receiver.ID)
		}
	}
	return delivered
}

// Sessions returns the number of live sessions of recipientID.
func (h *Hub) Sessions(recipientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[recipientID])
}

// Count returns the number of live sessions across all recipients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, sessions := range h.subs {
		n += len(sessions)
	}
	return n
}

// Session is a resumed subscription: the unread backlog first, then live messages, without duplicates.
type Session struct {
	sub     *Subscription
	backlog []Message
	seen    map[string]struct{}
}

// Next returns the next message in creation order.
// It fails with ErrSessionClosed once the subscription is closed or evicted.
func (s *Session) Next(ctx context.Context) (Message, error) {
	if len(s.backlog) > 0 {
		msg := s.backlog[0]
		s.backlog = s.backlog[1:]
		return msg, nil
	}
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return Message{}, ErrSessionClosed
			}
			if _, dup := s.seen[msg.ID]; dup {
				delete(s.seen, msg.ID)
				continue
			}
			return msg, nil
		}
	}
}

// Backlog returns the number of replayed messages not yet consumed.
func (s *Session) Backlog() int { return len(s.backlog) }

func (s *Session) Close() { s.sub.Close() }
