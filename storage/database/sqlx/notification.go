package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/academia/core/notification"
)

const notificationColumns = `id, type, event_id, recipient_id, recipient_email, sender_id, sender_email,
	attendance_record_id, message, created_at, read`

type notificationRow struct {
	ID                 string    `db:"id"`
	Type               string    `db:"type"`
	EventID            string    `db:"event_id"`
	RecipientID        string    `db:"recipient_id"`
	RecipientEmail     string    `db:"recipient_email"`
	SenderID           string    `db:"sender_id"`
	SenderEmail        string    `db:"sender_email"`
	AttendanceRecordID string    `db:"attendance_record_id"`
	Message            string    `db:"message"`
	CreatedAt          time.Time `db:"created_at"`
	Read               bool      `db:"read"`
}

func toNotificationRow(msg notification.Message) notificationRow {
	return notificationRow{
		ID:                 msg.ID,
		Type:               string(msg.Type),
		EventID:            msg.EventID,
		RecipientID:        msg.Receiver.ID,
		RecipientEmail:     msg.Receiver.Email,
		SenderID:           msg.Sender.ID,
		SenderEmail:        msg.Sender.Email,
		AttendanceRecordID: msg.AttendanceRecordID,
		Message:            msg.Message,
		CreatedAt:          msg.CreatedAt.UTC(),
		Read:               msg.Read,
	}
}

func (r notificationRow) toMessage() notification.Message {
	return notification.Message{
		ID:                 r.ID,
		Type:               notification.Type(r.Type),
		EventID:            r.EventID,
		Message:            r.Message,
		CreatedAt:          r.CreatedAt.UTC(),
		AttendanceRecordID: r.AttendanceRecordID,
		Sender:             notification.Party{ID: r.SenderID, Email: r.SenderEmail},
		Receiver:           notification.Party{ID: r.RecipientID, Email: r.RecipientEmail},
		Read:               r.Read,
	}
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateMessage(ctx context.Context, msg notification.Message) (notification.Message, bool, error) {
	q := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES (:id, :type, :event_id, :recipient_id, :recipient_email, :sender_id, :sender_email,
			:attendance_record_id, :message, :created_at, :read)
		ON CONFLICT ON CONSTRAINT notifications_event_recipient_key DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toNotificationRow(msg))
	if err != nil {
		return notification.Message{}, false, wrap(err, "inserting notification")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return msg, true, nil
	}

	var r notificationRow
	err = repo.db.GetContext(ctx, &r,
		`SELECT `+notificationColumns+` FROM notifications WHERE event_id = $1 AND recipient_id = $2`,
		msg.EventID, msg.Receiver.ID)
	if err != nil {
		return notification.Message{}, false, wrap(err, "getting existing notification")
	}
	return r.toMessage(), false, nil
}

func (repo *notificationRepository) ListUnread(ctx context.Context, recipientID string) ([]notification.Message, error) {
	msgs := make([]notification.Message, 0)
	if !isUUID(recipientID) {
		return msgs, nil
	}
	var rows []notificationRow
	err := sqlx.SelectContext(ctx, repo.db, &rows,
		`SELECT `+notificationColumns+` FROM notifications WHERE recipient_id = $1 AND NOT read ORDER BY seq`,
		recipientID)
	if err != nil {
		return nil, wrap(err, "listing unread notifications")
	}
	for _, r := range rows {
		msgs = append(msgs, r.toMessage())
	}
	return msgs, nil
}

func (repo *notificationRepository) MarkRead(ctx context.Context, recipientID, id string) error {
	if !isUUID(recipientID) || !isUUID(id) {
		return notification.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	if !isUUID(recipientID) {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND NOT read`, recipientID)
	if err != nil {
		return 0, wrap(err, "marking notifications read")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
