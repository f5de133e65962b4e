package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"actwaste/internal/config"
	"actwaste/internal/model"
	"actwaste/internal/sensor"
)

type staticSource map[model.Field]string

func (s staticSource) Name() string { return "Home" }

func (s staticSource) Field(f model.Field) (string, bool) {
	v, ok := s[f]
	return v, ok
}

func (s staticSource) RefreshIfStale(context.Context) {}

func TestPrintStates(t *testing.T) {
	src := staticSource{
		model.FieldGarbage:   "20/03/2024",
		model.FieldRecycling: "bogus",
	}
	now := func() time.Time { return time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	printStates(&buf, sensor.ForCache(src, now))

	out := buf.String()
	assert.Regexp(t, `Home Garbage Date\s+20/03/2024`, out)
	assert.Regexp(t, `Home Garbage Days\s+2 days`, out)
	assert.Regexp(t, `Home Recycling Days\s+nan\s+\(parse collection date`, out)
	assert.Regexp(t, `Home Greenwaste Date\s+nan`, out)
}

func TestSnapshotFuncDisabled(t *testing.T) {
	conf := config.DefaultConfig()
	assert.Nil(t, snapshotFunc(conf, "127.0.0.1:8080"))

	conf.Snapshot.Output = "/tmp/dashboard.png"
	assert.NotNil(t, snapshotFunc(conf, "127.0.0.1:8080"))
}
