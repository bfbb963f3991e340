package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
)

const dateLayout = "2006-01-02"

// parseDateRange accepts YYYY-MM-DD (whole days in loc) or RFC3339 bounds. Both bounds are
// required together; nil, nil means "use the default range".
func parseDateRange(from, to *string, loc *time.Location) (*domain.DateRange, error) {
	rawFrom, rawTo := trimmed(from), trimmed(to)
	if rawFrom == "" && rawTo == "" {
		return nil, nil
	}
	if rawFrom == "" || rawTo == "" {
		return nil, fmt.Errorf("%w: dateFrom and dateTo must be given together", domain.ErrValidation)
	}

	start, _, err := parseDate(rawFrom, loc, "dateFrom")
	if err != nil {
		return nil, err
	}
	end, endIsDay, err := parseDate(rawTo, loc, "dateTo")
	if err != nil {
		return nil, err
	}
	if endIsDay {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	dr := domain.DateRange{From: start, To: end}
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	return &dr, nil
}

func parseDate(value string, loc *time.Location, field string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC3339", domain.ErrValidation, field)
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
