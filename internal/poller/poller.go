package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "actwaste/internal/log"
	"actwaste/internal/sensor"
)

// Options configures a Poller.
type Options struct {
	// Spec is a standard 5-field cron expression or descriptor such as
	// "@every 6h".
	Spec string
	// Location the spec is evaluated in; nil uses time.Local.
	Location *time.Location
	// AfterRefresh, if set, runs after every refresh pass.
	AfterRefresh func(ctx context.Context)
}

// Poller drives the sensors' refresh hooks on a cron schedule. A pass
// refreshes sensors one after another and passes never overlap.
type Poller struct {
	sensors []sensor.Sensor
	opts    Options
	cron    *cron.Cron
	entry   cron.EntryID

	mu  sync.Mutex // serializes passes
	ctx context.Context
}

// New validates the schedule and registers the refresh job. Call Start to
// begin polling.
func New(sensors []sensor.Sensor, opts Options) (*Poller, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	p := &Poller{
		sensors: sensors,
		opts:    opts,
		cron:    c,
		ctx:     context.Background(),
	}

	id, err := c.AddFunc(opts.Spec, func() { p.RunOnce(p.context()) })
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", opts.Spec, err)
	}
	p.entry = id
	return p, nil
}

// RunOnce performs a single refresh pass synchronously.
func (p *Poller) RunOnce(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	sensor.RefreshAll(ctx, p.sensors)
	appLog.Debug("refresh pass done", "sensors", len(p.sensors), "took", time.Since(start).Round(time.Millisecond))

	if p.opts.AfterRefresh != nil && ctx.Err() == nil {
		p.opts.AfterRefresh(ctx)
	}
}

// Start begins scheduled polling. Jobs receive ctx; cancel it and call
// Stop to shut down.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	p.cron.Start()
	appLog.Info("poller started", "spec", p.opts.Spec, "next", p.Next().Format(time.RFC3339))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	appLog.Info("poller stopped")
}

// Next returns when the schedule fires next, counted from now.
func (p *Poller) Next() time.Time {
	e := p.cron.Entry(p.entry)
	if e.Schedule == nil {
		return time.Time{}
	}
	return e.Schedule.Next(time.Now().In(p.opts.Location))
}

func (p *Poller) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// cronLogger routes robfig/cron's logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
