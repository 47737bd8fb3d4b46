package inmemdb

import (
	"context"

	"github.com/trezcool/academia/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

func (repo *notificationRepository) CreateMessage(_ context.Context, msg notification.Message) (notification.Message, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := msg.EventID + "|" + msg.Receiver.ID
	if idx, ok := repo.db.byEvent[key]; ok {
		return *repo.db.table[idx], false, nil
	}
	stored := msg
	repo.db.table = append(repo.db.table, &stored)
	repo.db.byEvent[key] = len(repo.db.table) - 1
	return stored, true, nil
}

func (repo *notificationRepository) ListUnread(_ context.Context, recipientID string) ([]notification.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	msgs := make([]notification.Message, 0)
	for _, msg := range repo.db.table {
		if msg.Receiver.ID == recipientID && !msg.Read {
			msgs = append(msgs, *msg)
		}
	}
	return msgs, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, recipientID, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, msg := range repo.db.table {
		if msg.ID == id && msg.Receiver.ID == recipientID {
			msg.Read = true
			return nil
		}
	}
	return notification.ErrNotFound
}

func (repo *notificationRepository) MarkAllRead(_ context.Context, recipientID string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for _, msg := range repo.db.table {
		if msg.Receiver.ID == recipientID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}
