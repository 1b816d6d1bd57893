package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dedysaragih123/TubesFutureMessage/internal/analytics"
	"github.com/dedysaragih123/TubesFutureMessage/internal/api"
	"github.com/dedysaragih123/TubesFutureMessage/internal/auth"
	"github.com/dedysaragih123/TubesFutureMessage/internal/circuitbreaker"
	"github.com/dedysaragih123/TubesFutureMessage/internal/config"
	"github.com/dedysaragih123/TubesFutureMessage/internal/delivery"
	"github.com/dedysaragih123/TubesFutureMessage/internal/leaderelection"
	"github.com/dedysaragih123/TubesFutureMessage/internal/mailer"
	"github.com/dedysaragih123/TubesFutureMessage/internal/metrics"
	"github.com/dedysaragih123/TubesFutureMessage/internal/pdfgen"
	"github.com/dedysaragih123/TubesFutureMessage/internal/scheduler"
	"github.com/dedysaragih123/TubesFutureMessage/internal/store/postgres"
	"github.com/dedysaragih123/TubesFutureMessage/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`futuremsg - scheduled future document delivery

Usage:
  futuremsg <command>

Commands:
  serve      Start the API, scheduler and delivery workers
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  REDIS_ADDR                 Redis address for sessions and analytics (required)
  HTTP_ADDR                  HTTP server address (default: ":8080", falls back to PORT)

  PROVIDER_BASE_URL          Email provider base URL (required)
  PROVIDER_API_KEY           Email provider API key (required)
  PROVIDER_TIMEOUT           Per-request provider timeout (default: "30s")
  TOKEN_TTL                  Provider bearer token reuse window (default: "50m")

  PDF_BASE_URL               PDF export service base URL (optional)
  PDF_AUTH_TOKEN             PDF export service bearer token (optional)

  SWEEP_INTERVAL             Missed-document sweep interval (default: "60s")
  DELIVERY_WORKERS           Concurrent delivery workers (default: "1")
  EVENTBUS_BUFFER_SIZE       Delivery request buffer size (default: "100")
  DRAIN_TIMEOUT              Worker drain timeout on shutdown (default: "30s")
  SESSION_TTL                Login session lifetime (default: "24h")

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  CIRCUIT_BREAKER_THRESHOLD  Provider failures before the breaker opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Breaker open duration before a probe (default: "2m")

  LEADER_ELECTION_ENABLED    Run scheduler/workers on one instance only (default: "false")
  LEADER_LOCK_KEY            Postgres advisory lock key (default: "917203")
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection heartbeat (default: "2s")`)
}

// logConfigWarnings flags configurations that are valid but likely wrong in
// production. P0 warnings mean duplicate or lost deliveries are possible.
func logConfigWarnings(cfg config.Config) {
	if !cfg.LeaderElectionEnabled {
		log.Println("futuremsg: WARNING [P0]: LEADER_ELECTION_ENABLED=false - with multiple replicas every instance runs its own scheduler and workers; the ledger latch still closes once, but duplicate provider sends become likely")
	}
	if !cfg.MetricsEnabled {
		log.Println("futuremsg: WARNING [P1]: METRICS_ENABLED=false - no visibility into sweeps, wave outcomes, or provider errors")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("futuremsg: WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 - circuit breaker disabled; a provider outage will be hammered by every wave")
	}
	if cfg.SweepInterval > 5*time.Minute {
		log.Printf("futuremsg: INFO: SWEEP_INTERVAL=%s - documents whose trigger was lost in a restart may wait up to this long before the sweep picks them up", cfg.SweepInterval)
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("futuremsg: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()

	sessions := auth.NewSessionStore(redisClient, cfg.SessionTTL)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("futuremsg: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("futuremsg: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("futuremsg: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("futuremsg: METRICS_ENABLED not set; metrics disabled")
	}

	// Create the delivery request bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewBus(cfg.EventBusBufferSize, busOpts...)

	// Email provider gateway with circuit breaker
	breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	mailerOpts := []mailer.Option{
		mailer.WithTimeout(cfg.ProviderTimeout),
		mailer.WithTokenTTL(cfg.TokenTTL),
		mailer.WithBreaker(breaker),
	}
	if metricsSink != nil {
		mailerOpts = append(mailerOpts, mailer.WithMetrics(metricsSink))
	}
	gateway := mailer.New(cfg.ProviderBaseURL, cfg.ProviderAPIKey, mailerOpts...)

	worker := delivery.New(store, gateway).
		WithDrainTimeout(cfg.DrainTimeout).
		WithAnalytics(analytics.NewRedisSink(redisClient))
	if metricsSink != nil {
		worker = worker.WithMetrics(metricsSink)
	}

	sched := scheduler.New(
		scheduler.Config{SweepInterval: cfg.SweepInterval},
		store,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(store, sched, sessions).WithHealthChecker(db)
	if cfg.PDFBaseURL != "" {
		apiHandler = apiHandler.WithPDFExporter(pdfgen.New(cfg.PDFBaseURL, cfg.PDFAuthToken))
		log.Printf("futuremsg: pdf export enabled (base_url=%s)", cfg.PDFBaseURL)
	} else {
		log.Println("futuremsg: PDF_BASE_URL not set; pdf export disabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("futuremsg: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("futuremsg: http server error: %v", err)
		}
	}()

	// Scheduler and workers get separate contexts so shutdown can stop the
	// trigger source before the workers drain.
	var mu sync.Mutex
	var cancelScheduler, cancelWorkers context.CancelFunc
	var schedulerWg, workersWg sync.WaitGroup

	startDuties := func(parent context.Context) {
		mu.Lock()
		defer mu.Unlock()

		schedulerCtx, cancelSched := context.WithCancel(parent)
		workersCtx, cancelWork := context.WithCancel(parent)
		cancelScheduler = cancelSched
		cancelWorkers = cancelWork

		schedulerWg.Add(1)
		go func() {
			defer schedulerWg.Done()
			sched.Run(schedulerCtx)
		}()

		for i := 0; i < cfg.DeliveryWorkers; i++ {
			workersWg.Add(1)
			go func(id int) {
				defer workersWg.Done()
				log.Printf("futuremsg: delivery worker %d started", id)
				worker.Run(workersCtx, bus.Channel())
				log.Printf("futuremsg: delivery worker %d stopped", id)
			}(i)
		}
	}

	stopDuties := func() {
		mu.Lock()
		cs, cw := cancelScheduler, cancelWorkers
		cancelScheduler, cancelWorkers = nil, nil
		mu.Unlock()

		if cs == nil {
			return
		}

		log.Println("futuremsg: stopping scheduler...")
		cs()
		schedulerWg.Wait()
		log.Println("futuremsg: scheduler stopped")

		log.Println("futuremsg: stopping delivery workers (draining requests)...")
		cw()
		workersWg.Wait()
		log.Println("futuremsg: delivery workers stopped")
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startDuties,
			stopDuties,
		)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("futuremsg: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		startDuties(context.Background())
		log.Println("futuremsg: LEADER_ELECTION_ENABLED not set; running scheduler on this instance")
	}

	log.Printf("futuremsg: started (sweep=%s, workers=%d, http=%s)",
		cfg.SweepInterval, cfg.DeliveryWorkers, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("futuremsg: received signal %v, shutting down", received)

	// Phase 1: stop electing; a leader demotes, stopping scheduler then workers
	if cfg.LeaderElectionEnabled {
		cancelElector()
		electorWg.Wait()
	} else {
		cancelElector()
	}

	// Phase 2: stop duties directly when not elected (no-op if already stopped)
	stopDuties()

	// Phase 3: stop HTTP server with graceful shutdown
	log.Println("futuremsg: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("futuremsg: http server shutdown error: %v", err)
	}
	log.Println("futuremsg: http server stopped")

	// Phase 4: stop metrics server if running
	if metricsServer != nil {
		log.Println("futuremsg: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("futuremsg: metrics server shutdown error: %v", err)
		}
		log.Println("futuremsg: metrics server stopped")
	}

	log.Println("futuremsg: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("futuremsg version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
