package features

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// Calendar answers whether a UTC date is a US holiday, actual or observed.
type Calendar struct {
	bc *cal.BusinessCalendar
}

func NewUSCalendar() *Calendar {
	bc := cal.NewBusinessCalendar()
	bc.AddHoliday(us.Holidays...)
	return &Calendar{bc: bc}
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	actual, observed, _ := c.bc.IsHoliday(t.UTC())
	return actual || observed
}

func isWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
