package attendance

import (
	"context"
	"fmt"
	"net/mail"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

const maxTextLen = 2000

var (
	errTextOrDocument = errors.New("a justification text or a document is required")
	errTextTooLong    = fmt.Errorf("must be at most %d characters", maxTextLen)
	errBadDecision    = errors.New("decision must be one of APPROVED, REJECTED")
	errBadDocumentRef = errors.New("unknown document, upload it first")
)

// Submission is a learner's justification of an absence or late arrival.
type Submission struct {
	Text        string `json:"text"`
	DocumentRef string `json:"document_ref"`
}

func (s *Submission) clean() error {
	s.Text = core.CleanString(s.Text)
	s.DocumentRef = core.CleanString(s.DocumentRef)
	if s.Text == "" && s.DocumentRef == "" {
		return core.NewValidationError(errTextOrDocument, core.FieldError{Field: "text", Error: errTextOrDocument.Error()})
	}
	if len([]rune(s.Text)) > maxTextLen {
		return core.NewValidationError(nil, core.FieldError{Field: "text", Error: errTextTooLong.Error()})
	}
	if s.DocumentRef != "" && !core.IsDocumentRef(s.DocumentRef) {
		return core.NewValidationError(nil, core.FieldError{Field: "document_ref", Error: errBadDocumentRef.Error()})
	}
	return nil
}

// Review is a reviewer's decision on a pending justification.
type Review struct {
	Decision JustificationStatus `json:"decision"`
	Comment  string              `json:"comment"`
}

func (rv *Review) clean() error {
	rv.Decision = JustificationStatus(strings.ToUpper(core.CleanString(string(rv.Decision))))
	rv.Comment = core.CleanString(rv.Comment)
	if rv.Decision != StatusApproved && rv.Decision != StatusRejected {
		return core.NewValidationError(errBadDecision, core.FieldError{Field: "decision", Error: errBadDecision.Error()})
	}
	if len([]rune(rv.Comment)) > maxTextLen {
		return core.NewValidationError(nil, core.FieldError{Field: "comment", Error: errTextTooLong.Error()})
	}
	return nil
}

func invalidTransition(rec Record, attempted string) error {
	return core.NewInvalidTransitionError(string(rec.JustificationStatus), attempted)
}

// SubmitJustification moves a TO_JUSTIFY record to PENDING and notifies the learner's reviewers.
// Only the record's learner (or an admin on their behalf) may submit.
func (svc *service) SubmitJustification(ctx context.Context, actor user.User, recordID string, sub Submission) (Record, error) {
	if err := sub.clean(); err != nil {
		return Record{}, err
	}

	rec, err := svc.repo.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if actor.ID != rec.LearnerID && !actor.IsAdmin() {
		return Record{}, ErrRecordNotFound
	}
	learner, err := svc.learners.GetByID(ctx, rec.LearnerID)
	if err != nil {
		return Record{}, errors.Wrap(err, "finding learner")
	}

	unlock := svc.locks.Lock(lockKey(rec.LearnerID, rec.Date))
	defer unlock()

	if rec.JustificationStatus != StatusToJustify {
		return Record{}, invalidTransition(rec, "submit justification")
	}

	now := nowFunc().UTC()
	prev := rec
	rec.JustificationStatus = StatusPending
	rec.JustificationText = sub.Text
	rec.DocumentRef = sub.DocumentRef
	rec.UpdatedAt = now
	ev := Event{
		ID:        uuid.NewString(),
		RecordID:  rec.ID,
		Kind:      EventSubmitted,
		ActorID:   actor.ID,
		Timestamp: now,
		Comment:   sub.Text,
	}

	if rec, err = svc.transition(ctx, rec, prev, ev, "submit justification"); err != nil {
		return Record{}, err
	}

	svc.notifyReviewers(ctx, learner, rec, ev)
	return rec, nil
}

// ReviewJustification settles a PENDING record as APPROVED or REJECTED and notifies the learner.
func (svc *service) ReviewJustification(ctx context.Context, actor user.User, recordID string, rv Review) (Record, error) {
	if err := rv.clean(); err != nil {
		return Record{}, err
	}

	rec, err := svc.repo.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	learner, err := svc.learners.GetByID(ctx, rec.LearnerID)
	if err != nil {
		return Record{}, errors.Wrap(err, "finding learner")
	}
	if !actor.CanReview(learner) {
		return Record{}, core.ErrPermissionDenied
	}

	unlock := svc.locks.Lock(lockKey(rec.LearnerID, rec.Date))
	defer unlock()

	if rec.JustificationStatus != StatusPending {
		return Record{}, invalidTransition(rec, "review justification")
	}

	kind := EventApproved
	if rv.Decision == StatusRejected {
		kind = EventRejected
	}

	now := nowFunc().UTC()
	prev := rec
	rec.JustificationStatus = rv.Decision
	rec.ReviewComment = rv.Comment
	rec.ReviewedBy = actor.ID
	rec.ReviewedAt = &now
	rec.UpdatedAt = now
	ev := Event{
		ID:        uuid.NewString(),
		RecordID:  rec.ID,
		Kind:      kind,
		ActorID:   actor.ID,
		Timestamp: now,
		Comment:   rv.Comment,
	}

	if rec, err = svc.transition(ctx, rec, prev, ev, "review justification"); err != nil {
		return Record{}, err
	}

	svc.notifyLearner(ctx, actor, learner, rec, ev)
	return rec, nil
}

// transition saves rec with compare-and-set on prev. A lost race reports the winner's status.
func (svc *service) transition(ctx context.Context, rec, prev Record, ev Event, attempted string) (Record, error) {
	saved, err := svc.repo.UpdateRecord(ctx, rec, prev, ev)
	if errors.Cause(err) == ErrStaleRecord {
		current, gErr := svc.repo.GetRecord(ctx, rec.ID)
		if gErr != nil {
			return Record{}, errors.Wrap(gErr, "reloading record")
		}
		return Record{}, invalidTransition(current, attempted)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "updating record")
	}
	return saved, nil
}

// notifyReviewers fans out the submission. The transition is already committed, so failures are only logged.
func (svc *service) notifyReviewers(ctx context.Context, learner user.User, rec Record, ev Event) {
	reviewers, err := svc.learners.ReviewersFor(ctx, learner)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finding reviewers of %s: %v", learner.ID, err), err, rec)
		return
	}
	recipients := make([]notification.Party, 0, len(reviewers))
	for _, r := range reviewers {
		if r.ID == learner.ID {
			continue
		}
		recipients = append(recipients, notification.Party{ID: r.ID, Email: r.Email})
	}
	if len(recipients) == 0 {
		svc.logger.Warn(fmt.Sprintf("no reviewer for learner %s", learner.ID), rec)
		return
	}

	_, err = svc.notifier.Publish(ctx, notification.Notice{
		EventID:    ev.ID,
		Type:       notification.TypeJustificationSubmitted,
		RecordID:   rec.ID,
		Message:    fmt.Sprintf("%s submitted a justification for their %s on %s", learner.Name, absenceKind(rec), rec.Day()),
		Sender:     notification.Party{ID: learner.ID, Email: learner.Email},
		Recipients: recipients,
	})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("publishing submission of record %s: %v", rec.ID, err), err, rec)
	}
}

func (svc *service) notifyLearner(ctx context.Context, reviewer, learner user.User, rec Record, ev Event) {
	decision := strings.ToLower(string(rec.JustificationStatus))

	_, err := svc.notifier.Publish(ctx, notification.Notice{
		EventID:    ev.ID,
		Type:       notification.TypeJustificationReviewed,
		RecordID:   rec.ID,
		Message:    fmt.Sprintf("Your justification for %s was %s", rec.Day(), decision),
		Sender:     notification.Party{ID: reviewer.ID, Email: reviewer.Email},
		Recipients: []notification.Party{{ID: learner.ID, Email: learner.Email}},
	})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("publishing review of record %s: %v", rec.ID, err), err, rec)
	}

	if learner.Email == "" || svc.mailSvc == nil {
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: learner.Name, Address: learner.Email}},
		Subject:      "Your justification was " + decision,
		TemplateName: "justification_reviewed",
		TemplateData: map[string]interface{}{
			"Date":     rec.Day(),
			"Decision": decision,
			"Reviewer": reviewer.Name,
			"Comment":  rec.ReviewComment,
			"RecordID": rec.ID,
		},
		Metadata: map[string]string{
			"record_id":  rec.ID,
			"learner_id": learner.ID,
			"decision":   decision,
		},
	}
	if err = svc.attachDocument(ctx, msg, rec); err != nil {
		svc.logger.Error(fmt.Sprintf("attaching document %s: %v", rec.DocumentRef, err), err, rec)
	}
	svc.mailSvc.SendMessages(msg)
}

// attachDocument adds the record's justification document to msg, if any.
func (svc *service) attachDocument(ctx context.Context, msg *core.EmailMessage, rec Record) error {
	if rec.DocumentRef == "" || svc.docs == nil {
		return nil
	}
	r, err := svc.docs.Open(ctx, rec.DocumentRef)
	if err != nil {
		return errors.Wrap(err, "opening document")
	}
	defer r.Close()

	filename := "justification-" + rec.Day() + path.Ext(rec.DocumentRef)
	return errors.Wrap(msg.Attach(r, filename), "attaching document")
}

func absenceKind(rec Record) string {
	if rec.IsLate {
		return "late arrival"
	}
	return "absence"
}
