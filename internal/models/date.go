package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// DateRange is an inclusive calendar range.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseDateRange validates both bounds. The caller decides how to report an inverted range.
func ParseDateRange(start, end string) (DateRange, time.Time, time.Time, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", end)
	}
	return DateRange{Start: start, End: end}, s, e, nil
}

// Contains reports whether date falls inside the range. Dates compare lexically in DateLayout.
func (r DateRange) Contains(date string) bool {
	return date >= r.Start && date <= r.End
}
