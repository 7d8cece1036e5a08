// Command bridge runs the vehicle telemetry bridge: it ingests the push
// feed (UDP, serial, or a built-in simulator), batches samples into SQLite,
// republishes live samples for dashboards, and serves the JSON API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/api"
	"github.com/ecotele-data/telemetry.bridge/internal/bridge"
	"github.com/ecotele-data/telemetry.bridge/internal/catalog"
	"github.com/ecotele-data/telemetry.bridge/internal/config"
	"github.com/ecotele-data/telemetry.bridge/internal/merge"
	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/quality"
	"github.com/ecotele-data/telemetry.bridge/internal/store"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
	"github.com/ecotele-data/telemetry.bridge/internal/transport"
	"github.com/ecotele-data/telemetry.bridge/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	configPath   = flag.String("config", "", "Path to JSON config file")
	dbPath       = flag.String("db", "", "SQLite database path (overrides config)")
	sessionLabel = flag.String("session", "", "Label for the new recording session")
	mockMode     = flag.Bool("mock", false, "Generate synthetic telemetry instead of listening for a feed")
	feedAddr     = flag.String("feed", ":9920", "UDP listen address for the telemetry feed")
	serialPort   = flag.String("serial", "", "Serial device for the telemetry feed (overrides -feed)")
	publishAddr  = flag.String("publish", "", "UDP address to republish live samples to (empty: in-process only)")
	defaultUnits = flag.String("units", "mps", "Default speed units for API responses")
)

// reconcileEvery is how many merge cycles pass between store backfills of
// the active session.
const reconcileEvery = 30

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("telemetry bridge %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	src := telemetry.SourceRealtime
	if *mockMode {
		src = telemetry.SourceSynthetic
	}
	session := telemetry.NewSessionContext(*sessionLabel, *mockMode)
	log.Printf("Starting session %q (%s), source=%s", session.Label, session.ID, src)

	br := bridge.New(bridge.Config{
		Session:        session,
		Source:         src,
		QueueHighWater: cfg.QueueHighWater,
		QueueLowWater:  cfg.QueueLowWater,
		MaxBatchSize:   cfg.MaxBatchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loopback carries the simulator feed in mock mode and doubles as
	// the republish sink when no UDP target is configured.
	loop := transport.NewLoopback()
	defer loop.Close()

	var sub transport.Subscriber = loop
	switch {
	case *mockMode:
	case *serialPort != "":
		feed, err := transport.NewSerialFeed(*serialPort)
		if err != nil {
			log.Fatalf("Failed to open serial feed: %v", err)
		}
		defer feed.Close()
		sub = feed
	default:
		feed, err := transport.NewUDPFeed(*feedAddr)
		if err != nil {
			log.Fatalf("Failed to open UDP feed: %v", err)
		}
		defer feed.Close()
		sub = feed
	}

	var pub transport.Publisher = loop
	if *publishAddr != "" {
		up, err := transport.NewUDPPublisher(*publishAddr)
		if err != nil {
			log.Fatalf("Failed to open UDP publisher: %v", err)
		}
		defer up.Close()
		pub = up
	}

	if err := sub.Subscribe(ctx, cfg.FeedChannel, br.HandleMessage); err != nil {
		log.Fatalf("Failed to subscribe to feed: %v", err)
	}

	var wg sync.WaitGroup

	flusher := bridge.NewFlusher(bridge.FlusherConfig{
		Bridge:   br,
		Writer:   st,
		Interval: cfg.BatchInterval,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		flusher.Run(ctx)
	}()

	republisher := bridge.NewRepublisher(bridge.RepublisherConfig{
		Bridge:    br,
		Publisher: pub,
		Channel:   cfg.DashboardChannel,
		Interval:  cfg.RepublishInterval,
		BatchSize: cfg.RepublishBatch,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		republisher.Run(ctx)
	}()

	if *mockMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSimulator(ctx, loop, cfg)
		}()
	}

	timeline := merge.NewTimeline(cfg.MaxRowsPerSession)
	monitor := quality.NewMonitor(timeutil.RealClock{})
	fetcher := catalog.NewFetcher(catalog.FetcherConfig{
		Source:    st,
		PageSize:  cfg.PageSize,
		PageDelay: cfg.PageDelay,
		MaxRows:   cfg.MaxRowsPerSession,
	})
	scanner := catalog.NewScanner(catalog.ScannerConfig{
		Source:    st,
		PageSize:  cfg.PageSize,
		PageDelay: cfg.PageDelay,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMergeCycle(ctx, cfg, br, fetcher, timeline, monitor)
	}()

	srv := api.NewServer(scanner, fetcher, br, timeline, monitor, *defaultUnits)
	mux := srv.ServeMux()
	if err := st.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("Failed to attach admin routes: %v", err)
	}

	httpSrv := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Listening on %s", *listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Bridge stopped: %+v", br.Snapshot())
}

// runSimulator publishes synthetic binary records onto the feed channel
// until the context is cancelled.
func runSimulator(ctx context.Context, pub transport.Publisher, cfg config.BridgeConfig) {
	interval := cfg.SimulatorInterval
	if interval <= 0 {
		interval = telemetry.SimulatorInterval
	}
	sim := telemetry.NewSimulator(time.Now().UnixNano())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	monitoring.Logf("simulator started: interval=%v", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			payload := telemetry.EncodeBinary(sim.Next(now))
			if err := pub.Publish(ctx, cfg.FeedChannel, payload); err != nil {
				monitoring.Logf("simulator publish failed: %v", err)
			}
		}
	}
}

// runMergeCycle drains the live queue into the merged timeline on every
// tick, feeding the staleness monitor along the way. Every reconcileEvery
// cycles it backfills the active session from the store so rows that
// arrived before the dashboard attached still make it into the timeline.
func runMergeCycle(ctx context.Context, cfg config.BridgeConfig, br *bridge.Bridge, fetcher *catalog.Fetcher, timeline *merge.Timeline, monitor *quality.Monitor) {
	ticker := time.NewTicker(cfg.MergeInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var bulk []telemetry.Sample
			cycle++
			if cycle%reconcileEvery == 0 {
				samples, stats, err := fetcher.FetchSession(ctx, br.Session().ID, telemetry.SourceBulkCurrent)
				if err != nil {
					monitoring.Logf("session backfill failed: %v", err)
				} else {
					bulk = samples
					monitoring.Debugf("session backfill: %d rows in %d requests", stats.Rows, stats.Requests)
				}
			}

			live := br.TakeLive()
			for _, smp := range live {
				monitor.Observe(smp.Timestamp)
			}
			timeline.Rebuild(live, bulk)
		}
	}
}
