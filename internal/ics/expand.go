package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "actwaste/internal/log"
	"actwaste/internal/model"
	"actwaste/internal/schedule"
)

const (
	defaultMaxOccurrencesPerStream = 400
)

// ExpandConfig controls how collection dates are projected.
type ExpandConfig struct {
	// DisplayLocation is the timezone collection days are anchored in.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerStream caps a single stream's projection. If zero,
	// defaultMaxOccurrencesPerStream is used.
	MaxOccurrencesPerStream int
}

// ExpandResult wraps the projected occurrences.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// Truncated lists "<suburb>/<stream>" keys that hit the cap.
	Truncated []string
}

// Expand projects the next collection date of every stream of every
// collection into the configured window. A stream with a recurrence rule
// repeats from its upstream date; one without contributes only that date.
// Streams whose date is missing or malformed are skipped.
func Expand(collections []model.Collection, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerStream <= 0 {
		cfg.MaxOccurrencesPerStream = defaultMaxOccurrencesPerStream
	}

	for _, col := range collections {
		for _, st := range model.Streams {
			raw, ok := col.Record.String(st.Field())
			if !ok {
				continue
			}
			start, err := schedule.ParseDate(raw, cfg.DisplayLocation)
			if err != nil {
				appLog.Error("expand: skipping malformed date", err, "suburb", col.Suburb, "stream", st)
				continue
			}

			occ, hitCap := expandStream(col, st, start, cfg)
			if hitCap {
				key := col.Suburb + "/" + string(st)
				result.Truncated = append(result.Truncated, key)
				appLog.Warn("expand: truncated occurrences due to cap", "key", key, "cap", cfg.MaxOccurrencesPerStream)
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		a, b := result.Occurrences[i], result.Occurrences[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return streamIndex(a.Stream) < streamIndex(b.Stream)
	})

	return result, nil
}

func expandStream(col model.Collection, st model.Stream, start time.Time, cfg ExpandConfig) ([]model.Occurrence, bool) {
	rule := col.Recurrence[st]
	if rule == "" {
		if withinDays(start, cfg.RangeStart, cfg.RangeEnd) {
			return []model.Occurrence{makeOccurrence(col, st, start, false)}, false
		}
		return nil, false
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "suburb", col.Suburb, "stream", st, "rrule", rule)
		return nil, false
	}
	r.DTStart(start)

	// Compare on whole days so a window starting mid-morning still
	// includes that day's collection.
	from := dayStart(cfg.RangeStart.In(cfg.DisplayLocation))
	to := dayStart(cfg.RangeEnd.In(cfg.DisplayLocation))

	times := r.Between(from, to, true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerStream {
		times = times[:cfg.MaxOccurrencesPerStream]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(times))
	for _, t := range times {
		out = append(out, makeOccurrence(col, st, t, !t.Equal(start)))
	}
	return out, hitCap
}

func makeOccurrence(col model.Collection, st model.Stream, date time.Time, projected bool) model.Occurrence {
	return model.Occurrence{
		Name:      col.Name,
		Suburb:    col.Suburb,
		Stream:    st,
		Date:      dayStart(date),
		Projected: projected,
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func withinDays(d, from, to time.Time) bool {
	d = dayStart(d)
	return !d.Before(dayStart(from.In(d.Location()))) && !d.After(dayStart(to.In(d.Location())))
}

func streamIndex(s model.Stream) int {
	for i, st := range model.Streams {
		if st == s {
			return i
		}
	}
	return len(model.Streams)
}
