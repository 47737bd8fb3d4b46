package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
)

var (
	orderingParam = "ordering"

	errInvalidDate   = "must be a date formatted as YYYY-MM-DD"
	errInvalidStatus = "unknown justification status"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// parseDay parses a YYYY-MM-DD calendar day at local midnight in loc.
func parseDay(field, value string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(attendance.DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, core.NewValidationError(err, core.FieldError{Field: field, Error: errInvalidDate})
	}
	return day, nil
}

// RecordQuery binds the attendance record filters: learner_id & status may be repeated.
type RecordQuery struct {
	attendance.RecordFilter
}

func (q *RecordQuery) Bind(ctx echo.Context, loc *time.Location) error {
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &q.RecordFilter); err != nil {
		return errors.Wrap(err, "binding to RecordFilter")
	}

	var err error
	if from := ctx.QueryParam("from"); from != "" {
		if q.From, err = parseDay("from", from, loc); err != nil {
			return err
		}
	}
	if to := ctx.QueryParam("to"); to != "" {
		if q.To, err = parseDay("to", to, loc); err != nil {
			return err
		}
	}
	for _, raw := range ctx.QueryParams()["status"] {
		status := attendance.JustificationStatus(strings.ToUpper(core.CleanString(raw)))
		if !status.IsValid() {
			return core.NewValidationError(nil, core.FieldError{Field: "status", Error: errInvalidStatus})
		}
		q.Statuses = append(q.Statuses, status)
	}
	return nil
}
