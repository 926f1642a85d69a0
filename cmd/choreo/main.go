package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/influx"
	"github.com/OCAP2/choreograph/internal/logging"
	intOtel "github.com/OCAP2/choreograph/internal/otel"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const AppName = "choreo"

// configDirEnv overrides where choreo.cfg.json is looked up.
const configDirEnv = "CHOREO_CONFIG_DIR"

// app carries the ambient services every subcommand shares.
type app struct {
	stdout io.Writer
	stdin  io.Reader

	slogManager *logging.SlogManager
	logger      *slog.Logger
	zlog        zerolog.Logger
	logFile     *os.File
	otel        *intOtel.Provider
	metrics     *influx.Manager

	started time.Time
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp(ctx, os.Stdout, os.Stdin)
	err := a.run(ctx, os.Args[1], os.Args[2:])
	stop()
	a.close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func configDir() string {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir
	}
	return "."
}

// newApp loads config and sets up logging. Any optional service that fails
// to start is logged and left nil.
func newApp(ctx context.Context, stdout io.Writer, stdin io.Reader) *app {
	a := &app{
		stdout:      stdout,
		stdin:       stdin,
		slogManager: logging.NewSlogManager(),
		started:     time.Now(),
	}

	configErr := config.Load(configDir())

	var err error
	a.logFile, err = logging.OpenLogFile(viper.GetString("logsDir"), AppName, a.started)
	var logOut io.Writer = os.Stderr
	if err == nil {
		logOut = a.logFile
	}
	level := viper.GetString("logLevel")

	var extra []slog.Handler
	if config.GetBool("graylog.enabled") {
		w, err := logging.DialGelf(config.GetString("graylog.address"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "graylog disabled: %v\n", err)
		} else {
			extra = append(extra, logging.NewGelfHandler(w, logging.ParseLevel(level)))
			a.slogManager.AttachCloser(w)
		}
	}

	var provider *sdklog.LoggerProvider
	if otelCfg := config.GetOTelConfig(); otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logOut,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "otel disabled: %v\n", err)
		} else {
			a.otel.SetGlobal()
			provider = a.otel.LoggerProvider()
		}
	}

	a.slogManager.Setup(logOut, level, provider, extra...)
	a.logger = a.slogManager.Logger()
	if configErr != nil {
		a.logger.Warn("Failed to load config, using defaults", "error", configErr)
	}

	zlevel, zerr := zerolog.ParseLevel(strings.ToLower(level))
	if zerr != nil || zlevel == zerolog.NoLevel {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(logOut).Level(zlevel).With().Timestamp().Str("app", AppName).Logger()

	if ic := config.GetInfluxConfig(); ic.Enabled {
		backup := filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("metrics_%s.lp.gz", a.started.Format("20060102_150405")))
		m := influx.NewManager(ic, a.zlog, backup)
		if err := m.Connect(ctx); err != nil {
			a.logger.Warn("InfluxDB unavailable", "error", err)
		} else {
			a.metrics = m
		}
	}

	a.logger.Info("Starting", "version", Version, "build", BuildDate)
	return a
}

// editCounts reads per-operation edit totals from the meter provider.
func (a *app) editCounts(ctx context.Context) map[string]int64 {
	if a.otel == nil {
		return nil
	}
	rm, err := a.otel.Collect(ctx)
	if err != nil {
		a.logger.Warn("metric collect failed", "error", err)
		return nil
	}
	return intOtel.Sums(rm)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			a.logger.Warn("Failed to close InfluxDB", "error", err)
		}
	}
	if err := a.slogManager.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "closing logs: %v\n", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutting down otel: %v\n", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
