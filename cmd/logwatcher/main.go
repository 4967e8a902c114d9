package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/j0ons/SafeNest/internal/api"
	"github.com/j0ons/SafeNest/internal/block"
	"github.com/j0ons/SafeNest/internal/config"
	"github.com/j0ons/SafeNest/internal/metrics"
	"github.com/j0ons/SafeNest/internal/mqtt"
	"github.com/j0ons/SafeNest/internal/tail"
	"github.com/j0ons/SafeNest/internal/watch"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting SafeNest Log Watcher")

	httpAddr := config.GetEnv("SAFENEST_WATCHER_HTTP_ADDR", ":8081")
	watchLogs := config.GetEnv("SAFENEST_WATCH_LOGS",
		"/var/log/safenest_security.log,/var/log/mosquitto/mosquitto.log")
	stateFile := config.GetEnv("SAFENEST_STATE_FILE", "/var/lib/safenest/blocked.json")
	whitelistFile := config.GetEnv("SAFENEST_WHITELIST_FILE", "")
	dryRun := config.GetEnvBool("SAFENEST_FW_DRYRUN", false)
	chain := config.GetEnv("SAFENEST_FW_CHAIN", "INPUT")
	pollInterval := config.GetEnvDuration("SAFENEST_POLL_INTERVAL", 2*time.Second)
	brokerURL := config.GetEnv("SAFENEST_MQTT_URL", "")

	watcherCfg := watch.DefaultConfig()
	watcherCfg.AuthFailureThreshold = config.GetEnvInt("SAFENEST_AUTH_FAILURE_THRESHOLD", watcherCfg.AuthFailureThreshold)
	watcherCfg.UnauthorizedThreshold = config.GetEnvInt("SAFENEST_UNAUTHORIZED_THRESHOLD", watcherCfg.UnauthorizedThreshold)
	watcherCfg.Window = config.GetEnvDuration("SAFENEST_EVENT_WINDOW", watcherCfg.Window)

	logger.Info("Configuration loaded",
		"http_addr", httpAddr,
		"watch_logs", watchLogs,
		"state_file", stateFile,
		"whitelist_file", whitelistFile,
		"dry_run", dryRun,
		"chain", chain,
		"poll_interval", pollInterval,
		"auth_failure_threshold", watcherCfg.AuthFailureThreshold,
		"unauthorized_threshold", watcherCfg.UnauthorizedThreshold,
		"event_window", watcherCfg.Window)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	whitelist := config.DefaultWhitelist()
	if whitelistFile != "" {
		var err error
		whitelist, err = config.LoadWhitelist(whitelistFile)
		if err != nil {
			logger.Error("Failed to load whitelist", "error", err)
			os.Exit(1)
		}
		logger.Info("Whitelist loaded", "addresses", whitelist.Size())
	}

	var fw block.Firewall
	if dryRun {
		fw = block.NewDryRun(logger)
		logger.Info("Firewall in dry-run mode, no iptables commands will be issued")
	} else {
		fw = block.NewIPTables(chain, logger)
	}

	registry, err := block.NewRegistry(stateFile, logger)
	if err != nil {
		logger.Error("Failed to initialize block registry", "error", err)
		os.Exit(1)
	}

	// Resolve drift against the firewall: manually unblocked addresses must
	// be able to re-trigger.
	registry.Reconcile(fw)

	watcherMetrics := metrics.NewWatcherMetrics(prometheus.DefaultRegisterer)
	watcherMetrics.SetBlockedAddresses(float64(registry.Len()))

	watcher := watch.NewWatcher(watcherCfg, registry, fw, whitelist, watcherMetrics, logger)

	if brokerURL != "" {
		busClient, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: brokerURL,
			ClientID:  "safenest_logwatcher",
			Username:  config.GetEnv("SAFENEST_MQTT_USERNAME", ""),
			Password:  config.GetEnv("SAFENEST_MQTT_PASSWORD", ""),
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("Block notices disabled, could not create bus client", "error", err)
		} else {
			connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
			if err := busClient.Connect(connectCtx); err != nil {
				logger.Warn("Block notices disabled, broker unreachable", "error", err)
			} else {
				watcher.SetNotifier(busClient)
				defer busClient.Disconnect()
			}
			connectCancel()
		}
	}

	var wg sync.WaitGroup
	for _, logPath := range strings.Split(watchLogs, ",") {
		logPath = strings.TrimSpace(logPath)
		if logPath == "" {
			continue
		}

		tailer := tail.NewTailer(logPath, pollInterval, false, logger)
		tailer.SetOnRotate(watcherMetrics.IncRotations)

		wg.Add(1)
		go func(t *tail.Tailer) {
			defer wg.Done()
			source := t.Path()
			t.Run(ctx, func(line string) {
				watcher.ProcessLine(source, line)
			})
		}(tailer)
	}

	httpAPI := api.NewWatcherAPI(registry)
	mux := http.NewServeMux()
	httpAPI.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Log Watcher started successfully")
	<-sigChan

	logger.Info("Shutting down Log Watcher...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Log Watcher stopped")
}
