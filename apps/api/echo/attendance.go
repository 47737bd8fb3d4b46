package echoapi

import (
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/user"
)

const documentField = "file"

var errFileRequired = "a file is required"

// ScanMetrics counts scan outcomes.
type ScanMetrics interface {
	ObserveScan(outcome string)
}

type attendanceApi struct {
	svc     attendance.Service
	usrSvc  user.Service
	docs    core.DocumentStore
	metrics ScanMetrics
	conf    *core.Config
}

func registerAttendanceAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc attendance.Service,
	usrSvc user.Service,
	docs core.DocumentStore,
	metrics ScanMetrics,
	conf *core.Config,
) {
	api := attendanceApi{
		svc:     svc,
		usrSvc:  usrSvc,
		docs:    docs,
		metrics: metrics,
		conf:    conf,
	}

	ag := g.Group("/attendance", jwt)
	ag.POST("/scans", api.scan, scannerMiddleware())
	ag.GET("/me", api.history)
	ag.GET("/records", api.query)
	ag.POST("/documents", api.uploadDocument, middleware.BodyLimit(conf.Documents.MaxSize))
	ag.POST("/days/:date/close", api.closeDay, adminMiddleware())

	rg := ag.Group("/records/:id")
	rg.GET("", api.retrieve)
	rg.GET("/events", api.events)
	rg.GET("/document", api.downloadDocument)
	rg.POST("/justification", api.submitJustification)
	rg.POST("/review", api.review)
}

func (api *attendanceApi) observeScan(outcome string) {
	if api.metrics != nil {
		api.metrics.ObserveScan(outcome)
	}
}

// Handlers

func (api *attendanceApi) scan(ctx echo.Context) error {
	var data ScanRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScanRequest")
	}
	at := time.Now()
	if data.ScannedAt != nil {
		at = *data.ScannedAt
	}

	rec, err := api.svc.ProcessScan(ctx.Request().Context(), data.Identifier, at)
	if err != nil {
		api.observeScan("error")
		return errors.Wrap(err, "processing scan")
	}

	switch {
	case rec.ScanTime == nil || !rec.ScanTime.Equal(at):
		api.observeScan("repeat")
	case rec.IsLate:
		api.observeScan("late")
	default:
		api.observeScan("on_time")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) retrieve(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	rec, err := api.svc.GetRecord(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) query(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var q RecordQuery
	if err := q.Bind(ctx, api.conf.Attendance.Location); err != nil {
		return err
	}
	recs, err := api.svc.QueryRecords(ctx.Request().Context(), actor, q.RecordFilter)
	if err != nil {
		return errors.Wrap(err, "querying records")
	}
	return ctx.JSON(http.StatusOK, recs)
}

// history returns the records of the current user, most relevant for learners.
func (api *attendanceApi) history(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var q RecordQuery
	if err := q.Bind(ctx, api.conf.Attendance.Location); err != nil {
		return err
	}
	q.LearnerIDs = []string{actor.ID}
	recs, err := api.svc.QueryRecords(ctx.Request().Context(), actor, q.RecordFilter)
	if err != nil {
		return errors.Wrap(err, "querying own records")
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *attendanceApi) events(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	evs, err := api.svc.ListEvents(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing events")
	}
	return ctx.JSON(http.StatusOK, evs)
}

func (api *attendanceApi) submitJustification(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data attendance.Submission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submission")
	}
	rec, err := api.svc.SubmitJustification(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting justification")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) review(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data attendance.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	rec, err := api.svc.ReviewJustification(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "reviewing justification")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) closeDay(ctx echo.Context) error {
	day, err := parseDay("date", ctx.Param("date"), api.conf.Attendance.Location)
	if err != nil {
		return err
	}
	summary, err := api.svc.CloseDay(ctx.Request().Context(), day)
	if err != nil {
		return errors.Wrap(err, "closing day")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *attendanceApi) uploadDocument(ctx echo.Context) error {
	fh, err := ctx.FormFile(documentField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: documentField, Error: errFileRequired})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	ref, err := api.docs.Save(ctx.Request().Context(), fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return errors.Wrap(err, "saving document")
	}
	return ctx.JSON(http.StatusCreated, DocumentResponse{DocumentRef: ref})
}

// downloadDocument serves the supporting document of a record to whoever may see the record.
func (api *attendanceApi) downloadDocument(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	rec, err := api.svc.GetRecord(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting record")
	}
	if rec.DocumentRef == "" {
		return core.ErrDocumentNotFound
	}

	r, err := api.docs.Open(ctx.Request().Context(), rec.DocumentRef)
	if err != nil {
		return errors.Wrap(err, "opening document")
	}
	defer r.Close()

	contentType := mime.TypeByExtension(filepath.Ext(rec.DocumentRef))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return ctx.Stream(http.StatusOK, contentType, r)
}

type (
	ScanRequest struct {
		Identifier string     `json:"identifier"`
		ScannedAt  *time.Time `json:"scanned_at"`
	}

	DocumentResponse struct {
		DocumentRef string `json:"document_ref"`
	}
)
