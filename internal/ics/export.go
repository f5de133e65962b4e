package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "actwaste/internal/log"
	"actwaste/internal/model"
	"actwaste/internal/schedule"
)

const (
	ProductID = "-//actwaste//Collection Calendar//EN"
	// PublishedTTL matches the upstream refresh interval.
	PublishedTTL = "PT6H"
)

// BuildCalendar renders the known collection dates as an iCalendar
// subscription feed: one all-day VEVENT per stream date, repeating by the
// collection's RRULE when one is configured.
func BuildCalendar(collections []model.Collection, loc *time.Location, now time.Time) *ical.Calendar {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(calendarName(collections))
	cal.SetXWRTimezone(loc.String())
	cal.SetXPublishedTTL(PublishedTTL)

	for _, col := range collections {
		for _, st := range model.Streams {
			raw, ok := col.Record.String(st.Field())
			if !ok {
				continue
			}
			date, err := schedule.ParseDate(raw, loc)
			if err != nil {
				appLog.Error("ics export: skipping malformed date", err, "suburb", col.Suburb, "stream", st)
				continue
			}

			// Stable per date so calendar apps update instead of duplicating.
			uid := fmt.Sprintf("%s-%s-%s@actwaste", date.Format("20060102"), st, uidSafe(col.Suburb))

			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(now.UTC())
			ev.SetAllDayStartAt(date)
			ev.SetAllDayEndAt(date.AddDate(0, 0, 1))
			ev.SetSummary(st.Label() + " collection")
			ev.SetDescription(fmt.Sprintf("%s collection for %s (%s)", st.Label(), col.Name, col.Suburb))
			ev.SetLocation(col.Suburb)
			if rule := col.Recurrence[st]; rule != "" {
				ev.AddRrule(rule)
			}
		}
	}

	return cal
}

// Render serializes BuildCalendar's output.
func Render(collections []model.Collection, loc *time.Location, now time.Time) string {
	return BuildCalendar(collections, loc, now).Serialize()
}

func calendarName(collections []model.Collection) string {
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		return "Waste collection"
	}
	return "Waste collection " + strings.Join(names, ", ")
}

func uidSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}
