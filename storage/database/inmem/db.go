package inmemdb

import (
	"sync"

	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

type (
	// DB is a process-local store used by tests and by the DEV server when no database is configured.
	DB struct {
		user         *userTable
		attendance   *attendanceTable
		notification *notificationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	attendanceTable struct {
		sync.RWMutex
		table  map[string]*attendance.Record // {id: record}
		byDay  map[string]string             // {learnerID|date: id}
		events map[string][]attendance.Event // {recordID: events}
	}

	notificationTable struct {
		sync.RWMutex
		table   []*notification.Message // creation order
		byEvent map[string]int          // {eventID|recipientID: index}
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		attendance: &attendanceTable{
			table:  make(map[string]*attendance.Record),
			byDay:  make(map[string]string),
			events: make(map[string][]attendance.Event),
		},
		notification: &notificationTable{byEvent: make(map[string]int)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.attendance.Lock()
	db.attendance.table = make(map[string]*attendance.Record)
	db.attendance.byDay = make(map[string]string)
	db.attendance.events = make(map[string][]attendance.Event)
	db.attendance.Unlock()

	db.notification.Lock()
	db.notification.table = nil
	db.notification.byEvent = make(map[string]int)
	db.notification.Unlock()
}
