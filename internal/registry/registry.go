// Package registry holds the export definitions known to the process.
package registry

import (
	"errors"
	"fmt"
	"sync"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

var (
	// ErrDuplicate is returned when a type is registered twice.
	ErrDuplicate = errors.New("export type already registered")
	// ErrInvalidDefinition is returned for definitions missing required fields.
	ErrInvalidDefinition = errors.New("invalid export definition")
)

// Loader produces one definition. Loaders run once at startup.
type Loader func() (*domain.Definition, error)

// Registry is safe for concurrent reads after loading.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*domain.Definition
	order []string
	log   infralogger.Logger
}

// New creates an empty registry.
func New(log infralogger.Logger) *Registry {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Registry{defs: make(map[string]*domain.Definition), log: log}
}

// Register adds def under def.Type.
func (r *Registry) Register(def *domain.Definition) error {
	if def == nil || def.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidDefinition)
	}
	if def.Strategy == nil && def.DataSource == "" && !def.UseRemoteWorker {
		return fmt.Errorf("%w: %s has neither a data source nor a strategy", ErrInvalidDefinition, def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.Type)
	}

	r.defs[def.Type] = def
	r.order = append(r.order, def.Type)
	return nil
}

// Resolve returns the enabled definition for exportType.
func (r *Registry) Resolve(exportType string) (*domain.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[exportType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, exportType)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s is disabled", domain.ErrNotFound, exportType)
	}
	return def, nil
}

// ListTypes returns registered types in registration order.
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Load runs each loader and registers its definition. A loader that fails or
// panics is logged and skipped. It returns the number of definitions registered.
func (r *Registry) Load(loaders ...Loader) int {
	loaded := 0
	for i, load := range loaders {
		def, err := safeLoad(load)
		if err == nil {
			err = r.Register(def)
		}
		if err != nil {
			r.log.Error("Failed to load export definition",
				infralogger.Int("loader", i),
				infralogger.Error(err),
			)
			continue
		}

		loaded++
		r.log.Info("Export definition registered",
			infralogger.String("export_type", def.Type),
			infralogger.Bool("enabled", def.Enabled),
			infralogger.Bool("remote_worker", def.UseRemoteWorker),
		)
	}
	return loaded
}

func safeLoad(load Loader) (def *domain.Definition, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("loader panicked: %v", rec)
		}
	}()
	return load()
}
