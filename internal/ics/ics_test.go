package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actwaste/internal/model"
)

func sampleCollection() model.Collection {
	return model.Collection{
		Name:   "Home",
		Suburb: "RED HILL",
		Record: model.Record{
			"garbage_pickup_date":   "20/03/2024",
			"recycling_pickup_date": nil,
			"next_greenwaste_date":  "25/03/2024",
		},
	}
}

func TestRenderCalendar(t *testing.T) {
	now := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	col := sampleCollection()
	col.Recurrence = map[model.Stream]string{model.Garbage: "FREQ=WEEKLY"}

	out := Render([]model.Collection{col}, time.UTC, now)

	assert := assert.New(t)
	assert.Contains(out, "PRODID:"+ProductID)
	assert.Contains(out, "METHOD:PUBLISH")
	assert.Contains(out, "X-WR-CALNAME:Waste collection Home")
	assert.Contains(out, "X-PUBLISHED-TTL:"+PublishedTTL)
	assert.Contains(out, "DTSTART;VALUE=DATE:20240320")
	assert.Contains(out, "DTEND;VALUE=DATE:20240321")
	assert.Contains(out, "DTSTART;VALUE=DATE:20240325")
	assert.Contains(out, "UID:20240320-garbage-RED-HILL@actwaste")
	assert.Equal(2, strings.Count(out, "BEGIN:VEVENT"), "null recycling date is skipped")

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	garbage, ok := lo.Find(events, func(ev *ical.VEvent) bool {
		return strings.Contains(ev.Id(), "garbage")
	})
	require.True(t, ok)
	rrule := garbage.GetProperty(ical.ComponentPropertyRrule)
	require.NotNil(t, rrule)
	assert.Equal("FREQ=WEEKLY", rrule.Value)
	assert.Equal("Garbage collection", garbage.GetProperty(ical.ComponentPropertySummary).Value)

	green, ok := lo.Find(events, func(ev *ical.VEvent) bool {
		return strings.Contains(ev.Id(), "greenwaste")
	})
	require.True(t, ok)
	assert.Nil(green.GetProperty(ical.ComponentPropertyRrule))
}

func TestRenderSkipsMalformed(t *testing.T) {
	col := model.Collection{
		Name:   "Home",
		Suburb: "BRUCE",
		Record: model.Record{"garbage_pickup_date": "2024-03-20"},
	}
	out := Render([]model.Collection{col}, time.UTC, time.Now())
	assert.NotContains(t, out, "BEGIN:VEVENT")
}

func TestRenderEmpty(t *testing.T) {
	out := Render(nil, nil, time.Now())
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:Waste collection")
	assert.NotContains(t, out, "BEGIN:VEVENT")
}

func TestExpandWithRecurrence(t *testing.T) {
	col := sampleCollection()
	col.Recurrence = map[model.Stream]string{
		model.Garbage:    "FREQ=WEEKLY",
		model.Greenwaste: "FREQ=WEEKLY;INTERVAL=2",
	}

	res, err := Expand([]model.Collection{col}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 4, 14, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got := lo.Map(res.Occurrences, func(o model.Occurrence, _ int) string {
		return o.Date.Format("2006-01-02") + " " + string(o.Stream)
	})
	assert.Equal(t, []string{
		"2024-03-20 garbage",
		"2024-03-25 greenwaste",
		"2024-03-27 garbage",
		"2024-04-03 garbage",
		"2024-04-08 greenwaste",
		"2024-04-10 garbage",
	}, got)

	assert.False(t, res.Occurrences[0].Projected)
	assert.True(t, res.Occurrences[2].Projected)
	assert.Empty(t, res.Truncated)
}

func TestExpandWithoutRecurrence(t *testing.T) {
	res, err := Expand([]model.Collection{sampleCollection()}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 20, 18, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 3, 24, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1, "greenwaste falls outside the window")
	assert.Equal(t, model.Garbage, res.Occurrences[0].Stream)
	assert.Equal(t, "Home", res.Occurrences[0].Name)
	assert.Equal(t, "RED HILL", res.Occurrences[0].Suburb)
}

func TestExpandCap(t *testing.T) {
	col := sampleCollection()
	col.Recurrence = map[model.Stream]string{model.Garbage: "FREQ=DAILY"}

	res, err := Expand([]model.Collection{col}, ExpandConfig{
		DisplayLocation:         time.UTC,
		RangeStart:              time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		RangeEnd:                time.Date(2024, 3, 23, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerStream: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RED HILL/garbage"}, res.Truncated)
	garbage := lo.Filter(res.Occurrences, func(o model.Occurrence, _ int) bool { return o.Stream == model.Garbage })
	assert.Len(t, garbage, 2)
}

func TestExpandBadInput(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{
		RangeStart: time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	col := sampleCollection()
	col.Recurrence = map[model.Stream]string{model.Garbage: "FREQ=SOMETIMES"}
	res, err := Expand([]model.Collection{col}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	streams := lo.Map(res.Occurrences, func(o model.Occurrence, _ int) model.Stream { return o.Stream })
	assert.Equal(t, []model.Stream{model.Greenwaste}, streams, "invalid rule drops only that stream")
}
