// Package profiling starts optional pprof and Pyroscope profilers.
package profiling

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
)

const pprofReadHeaderTimeout = 5 * time.Second

// Config controls which profilers run.
type Config struct {
	PprofEnabled     bool   `env:"ENABLE_PROFILING"            yaml:"pprof_enabled"`
	PprofPort        string `env:"PPROF_PORT"                  yaml:"pprof_port"`
	PyroscopeEnabled bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"pyroscope_enabled"`
	PyroscopeURL     string `env:"PYROSCOPE_SERVER_URL"        yaml:"pyroscope_url"`
	Environment      string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
}

// Profiler holds the running profilers. A nil Profiler is valid and stops nothing.
type Profiler struct {
	pyroscope *pyroscope.Profiler
	pprof     *http.Server
}

// Start launches the profilers enabled in cfg. pprof binds to localhost only.
func Start(cfg Config, serviceName, version string, log infralogger.Logger) (*Profiler, error) {
	p := &Profiler{}

	if cfg.PprofEnabled {
		p.pprof = startPprof(cfg.PprofPort, log)
	}

	if cfg.PyroscopeEnabled {
		prof, startErr := pyroscope.Start(pyroscope.Config{
			ApplicationName: "north-cloud." + serviceName,
			ServerAddress:   cfg.PyroscopeURL,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
			Tags: map[string]string{
				"environment": cfg.Environment,
				"version":     version,
				"hostname":    hostname(),
				"go_version":  runtime.Version(),
			},
		})
		if startErr != nil {
			return p, fmt.Errorf("start pyroscope: %w", startErr)
		}
		p.pyroscope = prof

		log.Info("Pyroscope profiling started",
			infralogger.String("server", cfg.PyroscopeURL),
			infralogger.String("environment", cfg.Environment),
		)
	}

	return p, nil
}

func startPprof(port string, log infralogger.Logger) *http.Server {
	if port == "" {
		port = "6060"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              "localhost:" + port,
		Handler:           mux,
		ReadHeaderTimeout: pprofReadHeaderTimeout,
	}

	go func() {
		log.Info("Starting pprof server", infralogger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("pprof server error", infralogger.Error(err))
		}
	}()

	return srv
}

// Stop shuts down any running profilers.
func (p *Profiler) Stop() error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.pprof != nil {
		errs = append(errs, p.pprof.Close())
	}
	if p.pyroscope != nil {
		errs = append(errs, p.pyroscope.Stop())
	}
	return errors.Join(errs...)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
