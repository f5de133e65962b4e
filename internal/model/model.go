package model

import "time"

// Field is a key of the upstream collection-schedule record.
type Field string

const (
	FieldGarbage    Field = "garbage_pickup_date"
	FieldRecycling  Field = "recycling_pickup_date"
	FieldGreenwaste Field = "next_greenwaste_date"
)

// Record is a single upstream collection-schedule record as decoded from
// JSON. Besides the three date fields it usually carries the suburb, the
// collection weekday and a few other columns; they are kept as-is.
type Record map[string]any

// String returns the value of f if it is present and a string.
// JSON null, missing keys and non-string values all report false.
func (r Record) String(f Field) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[string(f)]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy so callers can't mutate cached state.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stream identifies one of the three bins that get collected.
type Stream string

const (
	Garbage    Stream = "garbage"
	Recycling  Stream = "recycling"
	Greenwaste Stream = "greenwaste"
)

// Streams lists every stream in display order.
var Streams = []Stream{Garbage, Recycling, Greenwaste}

// Field returns the record field holding the stream's next collection date.
func (s Stream) Field() Field {
	switch s {
	case Garbage:
		return FieldGarbage
	case Recycling:
		return FieldRecycling
	case Greenwaste:
		return FieldGreenwaste
	default:
		return ""
	}
}

// Label is the capitalized name used in sensor names ("Garbage").
func (s Stream) Label() string {
	switch s {
	case Garbage:
		return "Garbage"
	case Recycling:
		return "Recycling"
	case Greenwaste:
		return "Greenwaste"
	default:
		return string(s)
	}
}

// Collection is one configured suburb with its projected recurrence rules.
type Collection struct {
	Name   string
	Suburb string

	// Recurrence holds an optional RRULE (e.g. "FREQ=WEEKLY;INTERVAL=2")
	// per stream, used to project dates beyond the single upstream one.
	Recurrence map[Stream]string

	// Record is the cached upstream record, possibly empty.
	Record Record
}

// Occurrence is a single projected collection day.
type Occurrence struct {
	Name   string
	Suburb string
	Stream Stream

	// Date is midnight of the collection day in the display location.
	Date time.Time

	// Projected is false for the date reported upstream and true for
	// dates derived from a recurrence rule.
	Projected bool
}
