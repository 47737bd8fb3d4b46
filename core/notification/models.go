package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type Type string

const (
	TypeJustificationSubmitted Type = "JUSTIFICATION_SUBMITTED"
	TypeJustificationReviewed  Type = "JUSTIFICATION_REVIEWED"
)

var (
	// errors
	ErrNotFound      = core.NewNotFoundError("notification")
	ErrSessionClosed = errors.New("notification session closed")
)

// Party identifies the sender or the receiver of a Message.
type Party struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Message is a persisted notification, owned by its receiver. Only Read ever changes.
type Message struct {
	ID                 string    `json:"id"`
	Type               Type      `json:"type"`
	EventID            string    `json:"-"`
	Message            string    `json:"message"`
	CreatedAt          time.Time `json:"createdAt"`
	AttendanceRecordID string    `json:"attendanceRecordId"`
	Sender             Party     `json:"sender"`
	Receiver           Party     `json:"receiver"`
	Read               bool      `json:"read"`
}

// Notice is what producers hand to the Dispatcher: one Message is derived per recipient.
type Notice struct {
	EventID    string
	Type       Type
	RecordID   string
	Message    string
	Sender     Party
	Recipients []Party
}

type Repository interface {
	// CreateMessage persists msg unless a message already exists for (msg.EventID, msg.Receiver.ID).
	// It returns the stored message and whether it was created by this call.
	CreateMessage(ctx context.Context, msg Message) (Message, bool, error)
	// ListUnread returns the unread messages of recipientID in creation order.
	ListUnread(ctx context.Context, recipientID string) ([]Message, error)
	// MarkRead returns ErrNotFound when id does not exist or is not owned by recipientID.
	MarkRead(ctx context.Context, recipientID, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
}

// Broadcaster relays persisted messages to every API instance, each one delivering to its own Hub.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) error
}

// Metrics receives dispatch counters.
type Metrics interface {
	IncPublished(n int)
	IncDegraded()
}
