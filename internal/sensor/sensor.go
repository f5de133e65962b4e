package sensor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"actwaste/internal/model"
	"actwaste/internal/schedule"
)

// NaN is how an unavailable value is rendered.
const NaN = "nan"

// Icon is the display hint every collection sensor carries.
const Icon = "mdi:calendar"

// Value is a sensor state: a string, or the not-a-number sentinel.
type Value struct {
	text  string
	valid bool
}

// Text wraps an available value.
func Text(s string) Value { return Value{text: s, valid: true} }

// Unavailable is the not-a-number sentinel.
func Unavailable() Value { return Value{} }

func (v Value) Available() bool { return v.valid }

func (v Value) String() string {
	if !v.valid {
		return NaN
	}
	return v.text
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// Sensor is a read-only value provider polled by the dashboard.
type Sensor interface {
	Name() string
	FriendlyName() string
	Icon() string
	// State returns the current value. A malformed upstream date is
	// returned as a *schedule.ParseError.
	State() (Value, error)
	// Refresh lets the shared cache fetch if its data is stale.
	Refresh(ctx context.Context)
}

// Source is the part of schedule.Cache a sensor reads from.
type Source interface {
	Name() string
	Field(f model.Field) (string, bool)
	RefreshIfStale(ctx context.Context)
}

// transform turns a raw field value into the displayed value.
type transform func(raw string) (string, error)

type fieldSensor struct {
	source       Source
	field        model.Field
	name         string
	friendlyName string
	transform    transform
}

func (s *fieldSensor) Name() string         { return s.name }
func (s *fieldSensor) FriendlyName() string { return s.friendlyName }
func (s *fieldSensor) Icon() string         { return Icon }

func (s *fieldSensor) State() (Value, error) {
	raw, ok := s.source.Field(s.field)
	if !ok {
		return Unavailable(), nil
	}
	if s.transform == nil {
		return Text(raw), nil
	}
	out, err := s.transform(raw)
	if err != nil {
		return Unavailable(), err
	}
	return Text(out), nil
}

func (s *fieldSensor) Refresh(ctx context.Context) {
	s.source.RefreshIfStale(ctx)
}

// NewDateSensor reports the next collection date of a stream as-is.
func NewDateSensor(src Source, stream model.Stream) Sensor {
	return &fieldSensor{
		source:       src,
		field:        stream.Field(),
		name:         src.Name() + " " + stream.Label() + " Date",
		friendlyName: "Next " + stream.Label() + " Collection",
	}
}

// NewDaysSensor reports how many days remain until a stream's collection.
// now supplies the current time; nil uses time.Now.
func NewDaysSensor(src Source, stream model.Stream, now func() time.Time) Sensor {
	if now == nil {
		now = time.Now
	}
	return &fieldSensor{
		source:       src,
		field:        stream.Field(),
		name:         src.Name() + " " + stream.Label() + " Days",
		friendlyName: "Days until " + strings.ToLower(stream.Label()) + " collection",
		transform: func(raw string) (string, error) {
			return schedule.DaysUntil(raw, now())
		},
	}
}

// ForCache builds the six sensors of a suburb: a date and a days sensor
// per stream, dates first.
func ForCache(src Source, now func() time.Time) []Sensor {
	out := make([]Sensor, 0, 2*len(model.Streams))
	for _, st := range model.Streams {
		out = append(out, NewDateSensor(src, st))
	}
	for _, st := range model.Streams {
		out = append(out, NewDaysSensor(src, st, now))
	}
	return out
}

// RefreshAll runs every sensor's refresh hook in order.
func RefreshAll(ctx context.Context, sensors []Sensor) {
	for _, s := range sensors {
		if ctx.Err() != nil {
			return
		}
		s.Refresh(ctx)
	}
}
