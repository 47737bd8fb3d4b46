package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// DateLayout is the wire & storage layout of a calendar day.
const DateLayout = "2006-01-02"

type JustificationStatus string

const (
	StatusNone      JustificationStatus = "NONE"
	StatusToJustify JustificationStatus = "TO_JUSTIFY"
	StatusPending   JustificationStatus = "PENDING"
	StatusApproved  JustificationStatus = "APPROVED"
	StatusRejected  JustificationStatus = "REJECTED"
)

var Statuses = []JustificationStatus{StatusNone, StatusToJustify, StatusPending, StatusApproved, StatusRejected}

func (s JustificationStatus) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

type EventKind string

const (
	EventSubmitted EventKind = "SUBMITTED"
	EventApproved  EventKind = "APPROVED"
	EventRejected  EventKind = "REJECTED"
)

var (
	// errors
	ErrRecordNotFound  = core.NewNotFoundError("attendance record")
	ErrDuplicateRecord = errors.New("an attendance record already exists for this learner and day")
	ErrStaleRecord     = errors.New("attendance record was modified concurrently")
)

// Record is the attendance of one learner on one calendar day.
type Record struct {
	ID                  string              `json:"id"`
	LearnerID           string              `json:"learner_id"`
	Date                time.Time           `json:"date"` // local midnight
	ScanTime            *time.Time          `json:"scan_time"`
	IsPresent           bool                `json:"is_present"`
	IsLate              bool                `json:"is_late"`
	JustificationStatus JustificationStatus `json:"justification_status"`
	JustificationText   string              `json:"justification_text,omitempty"`
	DocumentRef         string              `json:"document_ref,omitempty"`
	ReviewComment       string              `json:"review_comment,omitempty"`
	ReviewedBy          string              `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Day returns the record's calendar day as YYYY-MM-DD.
func (r Record) Day() string { return r.Date.Format(DateLayout) }

// Event is an append-only audit entry of the justification workflow.
type Event struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	Kind      EventKind `json:"kind"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

type RecordFilter struct {
	LearnerIDs []string              `query:"learner_id"`
	From       time.Time             `query:"-"`
	To         time.Time             `query:"-"`
	Statuses   []JustificationStatus `query:"-"`
	IsPresent  *bool                 `query:"is_present"`
	IsLate     *bool                 `query:"is_late"`
}

// Matches reports whether rec satisfies every set field of the filter. From & To are inclusive days.
func (f RecordFilter) Matches(rec Record) bool {
	if len(f.LearnerIDs) > 0 && !containsString(f.LearnerIDs, rec.LearnerID) {
		return false
	}
	if !f.From.IsZero() && rec.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Date.After(f.To) {
		return false
	}
	if len(f.Statuses) > 0 {
		var found bool
		for _, st := range f.Statuses {
			if rec.JustificationStatus == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IsPresent != nil && rec.IsPresent != *f.IsPresent {
		return false
	}
	if f.IsLate != nil && rec.IsLate != *f.IsLate {
		return false
	}
	return true
}

type Repository interface {
	// CreateRecord returns ErrDuplicateRecord when (LearnerID, Date) is taken.
	CreateRecord(ctx context.Context, rec Record) (Record, error)
	// UpdateRecord saves rec if the stored presence & justification status still match prev,
	// appending events in the same transaction. It returns ErrStaleRecord otherwise.
	UpdateRecord(ctx context.Context, rec, prev Record, events ...Event) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	GetRecordByLearnerAndDate(ctx context.Context, learnerID string, day time.Time) (Record, error)
	// FilterRecords returns matching records ordered by date then learner.
	FilterRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	// ListEvents returns the events of a record in chronological order.
	ListEvents(ctx context.Context, recordID string) ([]Event, error)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
