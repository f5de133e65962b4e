package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"actwaste/internal/capture"
	"actwaste/internal/config"
	appLog "actwaste/internal/log"
	"actwaste/internal/poller"
	"actwaste/internal/schedule"
	"actwaste/internal/sensor"
	"actwaste/internal/web"
)

var version = "0.1.0-dev"

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("actwaste starting", "version", version)

	// CLI flags override the config file if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.snapshot != "" {
		conf.Snapshot.Output = flags.snapshot
	}

	minRefresh, err := conf.MinRefresh()
	if err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	timeout, err := conf.Timeout()
	if err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	loc := conf.Location()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"min_refresh", minRefresh,
		"collections", len(conf.Collections),
		"snapshot", conf.Snapshot.Output,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	now := func() time.Time { return time.Now().In(loc) }
	fetcher := schedule.NewHTTPFetcher(conf.Source.BaseURL, conf.Source.Dataset, timeout)

	var (
		collections []web.Collection
		all         []sensor.Sensor
	)
	for _, cc := range conf.Collections {
		cache := schedule.NewCache(cc.Name, cc.Suburb, fetcher, schedule.WithMinRefresh(minRefresh))
		sensors := sensor.ForCache(cache, now)
		collections = append(collections, web.Collection{
			Cache:      cache,
			Sensors:    sensors,
			Recurrence: cc.Recurrence.Rules(),
		})
		all = append(all, sensors...)
	}

	server := web.NewServer(conf, collections)

	// Bind before the first pass so the snapshot can reach the dashboard.
	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		appLog.Error("failed to listen", err, "listen", conf.Listen)
		os.Exit(1)
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(serveCtx, ln) }()

	snapshot := snapshotFunc(conf, ln.Addr().String())

	p, err := poller.New(all, poller.Options{Spec: conf.RefreshCron, Location: loc, AfterRefresh: snapshot})
	if err != nil {
		appLog.Error("invalid refresh schedule", err)
		os.Exit(1)
	}

	if flags.once {
		p.RunOnce(ctx)
		printStates(os.Stdout, all)
		cancelServe()
		<-serveErr
		return
	}

	p.RunOnce(ctx)
	p.Start(ctx)

	select {
	case err := <-serveErr:
		if err != nil {
			appLog.Error("HTTP server failed", err)
		}
		stop()
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
		if err := <-serveErr; err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}

	p.Stop()
	appLog.Info("actwaste exiting")
}

// snapshotFunc returns the post-refresh hook that captures the dashboard,
// or nil when no snapshot output is configured.
func snapshotFunc(conf *config.Config, addr string) func(context.Context) {
	if conf.Snapshot.Output == "" {
		return nil
	}
	url := web.DashboardURL(conf, addr)
	return func(ctx context.Context) {
		err := capture.CaptureDashboardPNG(ctx, capture.Options{
			URL:        url,
			OutputPath: conf.Snapshot.Output,
			Width:      conf.Snapshot.Width,
			Height:     conf.Snapshot.Height,
		})
		if err != nil {
			appLog.Error("dashboard snapshot failed", err, "output", conf.Snapshot.Output)
			return
		}
		appLog.Info("dashboard snapshot written", "output", conf.Snapshot.Output)
	}
}

func printStates(w io.Writer, sensors []sensor.Sensor) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range sensors {
		v, err := s.State()
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t(%v)\n", s.Name(), v, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", s.Name(), v)
	}
	tw.Flush()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/actwaste/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh pass, print sensor states and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of the dashboard after each refresh (overrides config if set)")

	flag.Parse()

	return cfg
}
