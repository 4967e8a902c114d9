package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/j0ons/SafeNest/internal/api"
	"github.com/j0ons/SafeNest/internal/config"
	"github.com/j0ons/SafeNest/internal/metrics"
	"github.com/j0ons/SafeNest/internal/mqtt"
	"github.com/j0ons/SafeNest/internal/rules"
	"github.com/j0ons/SafeNest/internal/seclog"
	"github.com/j0ons/SafeNest/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting SafeNest Anomaly Detection Engine")

	httpAddr := config.GetEnv("SAFENEST_HTTP_ADDR", ":8080")
	brokerURL := config.GetEnv("SAFENEST_MQTT_URL", "tcp://192.168.1.10:1883")
	mqttUsername := config.GetEnv("SAFENEST_MQTT_USERNAME", "")
	mqttPassword := config.GetEnv("SAFENEST_MQTT_PASSWORD", "")
	caCertFile := config.GetEnv("SAFENEST_MQTT_CA_CERT", "")
	rulesDir := config.GetEnv("SAFENEST_RULES_DIR", "rules.d")
	hotReload := config.GetEnvBool("SAFENEST_HOT_RELOAD", false)
	debounceMs := config.GetEnvInt("SAFENEST_DEBOUNCE_MS", 1000)
	securityLog := config.GetEnv("SAFENEST_SECURITY_LOG", "/var/log/safenest_security.log")
	whitelistFile := config.GetEnv("SAFENEST_WHITELIST_FILE", "")
	maxAlerts := config.GetEnvInt("SAFENEST_MAX_ALERTS", 1000)
	gcInterval := config.GetEnvDuration("SAFENEST_WINDOW_GC_INTERVAL", 30*time.Second)

	logger.Info("Configuration loaded",
		"http_addr", httpAddr,
		"mqtt_url", brokerURL,
		"rules_dir", rulesDir,
		"hot_reload", hotReload,
		"debounce_ms", debounceMs,
		"security_log", securityLog,
		"whitelist_file", whitelistFile,
		"max_alerts", maxAlerts)

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

	ruleLoader := rules.NewLoader(rulesDir, hotReload, debounceMs, logger)
	if _, err := ruleLoader.LoadSnapshot(); err != nil {
		logger.Error("Failed to load initial rules snapshot", "error", err)
		os.Exit(1)
	}
	if err := ruleLoader.WatchForChanges(); err != nil {
		logger.Error("Failed to start rule watcher", "error", err)
		os.Exit(1)
	}

	alertLog, err := seclog.NewWriter(securityLog, "safenest_detector")
	if err != nil {
		logger.Error("Failed to open security log", "error", err)
		os.Exit(1)
	}
	defer alertLog.Close()

	busClient, err := mqtt.NewClient(mqtt.Options{
		BrokerURL:  brokerURL,
		ClientID:   "safenest_detector",
		Username:   mqttUsername,
		Password:   mqttPassword,
		CACertFile: caCertFile,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to create bus client", "error", err)
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := busClient.Connect(connectCtx); err != nil {
		connectCancel()
		logger.Error("Failed to connect to MQTT broker", "error", err)
		os.Exit(1)
	}
	connectCancel()
	defer busClient.Disconnect()

	detectorMetrics := metrics.NewDetectorMetrics(prometheus.DefaultRegisterer)
	alertStore := store.NewAlertStore(maxAlerts)

	engine := rules.NewEngine(ruleLoader, busClient, alertLog, whitelist, detectorMetrics, logger)
	engine.SetOnAlert(alertStore.Add)
	engine.StartGC(gcInterval)
	defer engine.StopGC()

	stopReload := make(chan struct{})
	go engine.WatchRules(stopReload)
	defer close(stopReload)

	if err := busClient.SubscribeMonitor(engine.OnEvent); err != nil {
		logger.Error("Failed to subscribe to bus traffic", "error", err)
		os.Exit(1)
	}

	httpAPI := api.NewDetectorAPI(alertStore, ruleLoader, busClient.IsConnected)
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

	logger.Info("Anomaly Detection Engine started successfully")
	<-sigChan

	logger.Info("Shutting down Anomaly Detection Engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Anomaly Detection Engine stopped")
}
