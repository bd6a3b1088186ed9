// Command fabricd wires the fabric net to its external collaborators:
// a WebSocket gateway facing clients and a NATS bridge to other
// processes, with Prometheus metrics and gopsutil-backed diagnostics
// alongside.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/watermesh/fabric/bridge"
	"github.com/watermesh/fabric/internal/config"
	"github.com/watermesh/fabric/internal/diagnostics"
	"github.com/watermesh/fabric/internal/logging"
	"github.com/watermesh/fabric/internal/metrics"
	"github.com/watermesh/fabric/pkg/fabric"

	"github.com/watermesh/fabric/gateway"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides FABRIC_LOG_LEVEL)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	logger := logging.New(logging.Options{Level: logging.LevelInfo, Format: logging.FormatJSON, Service: "fabricd"})

	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting fabricd")

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = logging.LevelDebug
	}

	logger = logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "fabricd"})
	cfg.LogConfig(logger)

	m := metrics.New()
	sampler := diagnostics.NewSampler()
	stopSampler := make(chan struct{})
	go sampler.Run(15*time.Second, stopSampler)

	net := fabric.NewNet(cfg.ServerSID)
	if cfg.MaxBroadcastRate > 0 {
		net.SetSendRateLimit(float64(cfg.MaxBroadcastRate))
	}

	stopMetrics := make(chan struct{})
	go m.Run(net, 5*time.Second, stopMetrics)

	var br *bridge.Bridge
	if cfg.NATSURL != "" {
		br, err = bridge.Connect(bridge.Config{
			URL:             cfg.NATSURL,
			SubjectPrefix:   cfg.NATSSubjectPrefix,
			MaxReconnects:   10,
			ReconnectWait:   2 * time.Second,
			ReconnectJitter: 500 * time.Millisecond,
			PauseThreshold:  cfg.CPUPauseThreshold,
		}, m, sampler, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("bridge unavailable, continuing without NATS")
		}
	}
	if br != nil {
		bridgeEP := net.NewEndpoint(cfg.ServerSID)
		m.EndpointCreated(bridgeEP)
		if err := br.Attach(bridgeEP, cfg.ServerSID); err != nil {
			logger.Warn().Err(err).Msg("bridge attach failed")
		}
		go br.Forward(bridgeEP, cfg.ServerSID)
		defer func() {
			m.EndpointClosed(bridgeEP)
			bridgeEP.Close()
		}()
		defer br.Close()
	}

	gw := gateway.New(gateway.Config{
		Addr:                 cfg.GatewayAddr,
		MaxConnections:       cfg.MaxConnections,
		EndpointPendingLimit: cfg.EndpointPendingLimit,
		EndpointMemoryLimit:  cfg.EndpointMemoryLimit,
		CPURejectThreshold:   cfg.CPURejectThreshold,
	}, net, m, sampler, logger)

	go func() {
		if err := gw.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("gateway listener failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, metricsMux); err != nil {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down fabricd")
	close(stopSampler)
	close(stopMetrics)
}
