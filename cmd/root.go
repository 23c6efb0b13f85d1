package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jaishree29/slaaang-omegle-feature-backend/healthcheck"
	"github.com/jaishree29/slaaang-omegle-feature-backend/metrics"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server/listener/poll"
	"github.com/jaishree29/slaaang-omegle-feature-backend/server/listener/ws"
	"github.com/jaishree29/slaaang-omegle-feature-backend/util"
)

type Config struct {
	// ListenAddress serves the WebSocket push transport
	ListenAddress string
	// PollListenAddress serves the HTTP long-poll transport
	PollListenAddress        string
	MetricsPort              int
	HealthcheckListenAddress string
	AllowedOrigins           []string
	SweepInterval            time.Duration
	LogLevel                 string
	LogFile                  string
}

func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.PollListenAddress == "" {
		return fmt.Errorf("poll listen address is required")
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d", c.MetricsPort)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}

var (
	cobraConfig *Config
	rootCmd     = &cobra.Command{
		Use:           "slaaang-backend",
		Short:         "Rendezvous and signaling service",
		Long:          "Rendezvous service that pairs anonymous strangers and relays WebRTC signaling between them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          execute,
	}
)

func init() {
	_ = util.InitLog("info", util.LogConsole)
	cobraConfig = &Config{}
	rootCmd.PersistentFlags().StringVarP(&cobraConfig.ListenAddress, "listen-address", "l", ":10000", "listen address of the WebSocket transport")
	rootCmd.PersistentFlags().StringVarP(&cobraConfig.PollListenAddress, "poll-listen-address", "p", ":10001", "listen address of the HTTP long-poll transport")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.MetricsPort, "metrics-port", 9090, "metrics endpoint http port. Metrics are accessible under host:metrics-port/metrics")
	rootCmd.PersistentFlags().StringVarP(&cobraConfig.HealthcheckListenAddress, "health-listen-address", "H", ":9000", "listen address of healthcheck server")
	rootCmd.PersistentFlags().StringSliceVar(&cobraConfig.AllowedOrigins, "allowed-origins", []string{"*"}, "origins allowed to reach the transports (CORS and WebSocket origin check)")
	rootCmd.PersistentFlags().DurationVar(&cobraConfig.SweepInterval, "sweep-interval", server.DefaultSweepInterval, "how often stale waiting pool entries are pruned")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogFile, "log-file", util.LogConsole, "log file")

	util.SetFlagsFromEnvVars(rootCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func waitForExitSignal() {
	osSigs := make(chan os.Signal, 1)
	signal.Notify(osSigs, syscall.SIGINT, syscall.SIGTERM)
	<-osSigs
}

func execute(cmd *cobra.Command, args []string) error {
	wg := sync.WaitGroup{}
	err := cobraConfig.Validate()
	if err != nil {
		log.Debugf("invalid config: %s", err)
		return fmt.Errorf("invalid config: %s", err)
	}

	err = util.InitLog(cobraConfig.LogLevel, cobraConfig.LogFile)
	if err != nil {
		log.Debugf("failed to initialize log: %s", err)
		return fmt.Errorf("failed to initialize log: %s", err)
	}

	// Resource creation phase (fail fast before starting any goroutines)

	metricsServer, err := metrics.NewServer(cobraConfig.MetricsPort, "")
	if err != nil {
		log.Debugf("setup metrics: %v", err)
		return fmt.Errorf("setup metrics: %v", err)
	}

	appMetrics, err := metrics.NewAppMetrics(metricsServer.Meter)
	if err != nil {
		return fmt.Errorf("setup app metrics: %v", err)
	}

	engine := server.New(appMetrics, cobraConfig.SweepInterval)
	wsListener := ws.NewListener(cobraConfig.ListenAddress, engine, cobraConfig.AllowedOrigins)
	pollListener := poll.NewListener(cobraConfig.PollListenAddress, engine, cobraConfig.AllowedOrigins)
	httpHealthcheck := healthcheck.NewServer(cobraConfig.HealthcheckListenAddress, engine)

	// Start all servers (only after all resources are successfully created)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go engine.Run(sweepCtx)
	startServers(&wg, metricsServer, wsListener, pollListener, httpHealthcheck)

	waitForExitSignal()
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = shutdownServers(ctx, metricsServer, wsListener, pollListener, httpHealthcheck)
	wg.Wait()
	return err
}

func startServers(wg *sync.WaitGroup, metricsServer *metrics.Metrics, wsListener *ws.Listener, pollListener *poll.Listener, httpHealthcheck *healthcheck.Server) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("running metrics server: %s%s", metricsServer.Addr, metricsServer.Endpoint)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start metrics server: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsListener.Listen(); err != nil {
			log.Fatalf("failed to bind WebSocket listener: %s", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pollListener.Listen(); err != nil {
			log.Fatalf("failed to bind poll listener: %s", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpHealthcheck.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start healthcheck server: %v", err)
		}
	}()
}

func shutdownServers(ctx context.Context, metricsServer *metrics.Metrics, wsListener *ws.Listener, pollListener *poll.Listener, httpHealthcheck *healthcheck.Server) error {
	var multiErr *multierror.Error

	if err := wsListener.Close(); err != nil {
		multiErr = multierror.Append(multiErr, fmt.Errorf("close WebSocket listener: %w", err))
	}
	if err := pollListener.Close(); err != nil {
		multiErr = multierror.Append(multiErr, fmt.Errorf("close poll listener: %w", err))
	}
	if err := httpHealthcheck.Shutdown(ctx); err != nil {
		multiErr = multierror.Append(multiErr, fmt.Errorf("shutdown healthcheck server: %w", err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		multiErr = multierror.Append(multiErr, fmt.Errorf("shutdown metrics server: %w", err))
	}

	log.Infof("stopped rendezvous service")
	return multiErr.ErrorOrNil()
}
