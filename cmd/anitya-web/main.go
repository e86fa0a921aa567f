package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/anitya-web/internal/api"
	"github.com/eugenenazirov/anitya-web/internal/application"
	"github.com/eugenenazirov/anitya-web/internal/config"
	"github.com/eugenenazirov/anitya-web/internal/database"
	"github.com/eugenenazirov/anitya-web/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	defaults := application.DefaultServerConfig()

	kingpinApp := kingpin.New("anitya-web", "Anitya web front-end - upstream release monitoring")
	configFile := kingpinApp.Flag("config", "Path to the YAML configuration file (overrides "+config.PathEnvVar+")").String()

	serveCmd := kingpinApp.Command("serve", "Run the HTTP server").Default()
	addr := serveCmd.Flag("addr", "HTTP listen address").Default(defaults.Addr).String()
	gracePeriod := serveCmd.Flag("shutdown-grace-period", "Time allowed for in-flight requests on shutdown").Default(defaults.ShutdownGracePeriod.String()).Duration()
	readHeaderTimeout := serveCmd.Flag("read-header-timeout", "Maximum time to read request headers").Default(defaults.ReadHeaderTimeout.String()).Duration()
	writeTimeout := serveCmd.Flag("write-timeout", "Maximum time to write a response").Default(defaults.WriteTimeout.String()).Duration()
	idleTimeout := serveCmd.Flag("idle-timeout", "Keep-alive idle timeout").Default(defaults.IdleTimeout.String()).Duration()
	requestLogging := serveCmd.Flag("request-logging", "Emit an access log line per request").Default(strconv.FormatBool(defaults.EnableRequestLogging)).Bool()
	rateLimitRPS := serveCmd.Flag("rate-limit-rps", "Requests per second allowed per client (set 0 to disable)").Default(strconv.FormatFloat(defaults.RateLimitRPS, 'f', -1, 64)).Float64()
	rateLimitBurst := serveCmd.Flag("rate-limit-burst", "Burst capacity per client (set 0 to disable)").Default(strconv.Itoa(defaults.RateLimitBurst)).Int()

	configCmd := kingpinApp.Command("config", "Print the effective configuration with the secret key redacted")

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	bootstrap, err := logging.New()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	cfg := config.Load(bootstrap, loaderOptions(*configFile)...)
	_ = bootstrap.Sync()

	switch command {
	case configCmd.FullCommand():
		if err := printConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print configuration: %v\n", err)
			os.Exit(1)
		}
	case serveCmd.FullCommand():
		serve(cfg, application.ServerConfig{
			Addr:                 *addr,
			ShutdownGracePeriod:  *gracePeriod,
			ReadHeaderTimeout:    *readHeaderTimeout,
			WriteTimeout:         *writeTimeout,
			IdleTimeout:          *idleTimeout,
			EnableRequestLogging: *requestLogging,
			RateLimitRPS:         *rateLimitRPS,
			RateLimitBurst:       *rateLimitBurst,
		})
	}
}

func loaderOptions(path string) []config.LoaderOption {
	if path == "" {
		return nil
	}
	return []config.LoaderOption{config.WithPath(path)}
}

func serve(cfg config.Config, srv application.ServerConfig) {
	logger, err := application.NewLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	var db api.Pinger
	conn, err := database.Open(cfg.DBURL)
	if err != nil {
		logger.Warn("database disabled", zap.Error(err), zap.String("db_url", cfg.DBURL))
	} else {
		defer conn.Close()
		db = conn
	}

	app, err := application.New(cfg, srv, logger, db)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), srv.ShutdownGracePeriod, logger)
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	return enc.Close()
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
