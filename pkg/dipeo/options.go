package dipeo

import (
	"log/slog"
	"time"

	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/event"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/memory"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/observability"
	"github.com/sorryhyun/DiPeO-sub003/pkg/dipeo/state"
)

// engineConfig holds engine-level configuration shared by every run.
type engineConfig struct {
	services *ServiceRegistry
	memory   *memory.Manager
	logger   *slog.Logger

	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	store           state.Store
	storeFatal      bool
	events          *event.Bus

	maxConcurrent  int
	maxSteps       int
	nodeTimeout    time.Duration
	runTimeout     time.Duration
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		maxConcurrent: 8,
		maxSteps:      1000,
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// WithServices sets the service registry handlers resolve dependencies
// from. Default: an empty registry.
func WithServices(s *ServiceRegistry) EngineOption {
	return func(c *engineConfig) {
		if s != nil {
			c.services = s
		}
	}
}

// WithMemory sets the agent memory manager. Default: a fresh manager
// per engine, so conversations persist across runs on the same engine.
func WithMemory(m *memory.Manager) EngineOption {
	return func(c *engineConfig) {
		if m != nil {
			c.memory = m
		}
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables metrics recording.
//
// Example:
//
//	engine, _ := dipeo.NewEngine(handlers,
//	    dipeo.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) EngineOption {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry span creation for runs and node
// invocations.
func WithTracing() EngineOption {
	return func(c *engineConfig) {
		c.spans = observability.NewSpanManager()
		c.tracingEnabled = true
	}
}

// WithStateStore persists node outputs and run summaries to the given
// store. Write failures are logged and ignored unless fatal is true.
func WithStateStore(s state.Store, fatal bool) EngineOption {
	return func(c *engineConfig) {
		c.store = s
		c.storeFatal = fatal
	}
}

// WithEventBus publishes progress records to the given bus.
func WithEventBus(b *event.Bus) EngineOption {
	return func(c *engineConfig) { c.events = b }
}

// WithMaxConcurrent bounds how many nodes run simultaneously within a
// dispatch wave. Default: 8.
func WithMaxConcurrent(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithStepCeiling sets the global dispatch ceiling per run. A run whose
// total node dispatches exceed the ceiling aborts with
// RunawayLoopError. Default: 1000.
//
// This is the safety net above per-node MaxIteration: it catches
// multi-node cycles where every member keeps re-arming the others.
func WithStepCeiling(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithNodeTimeout sets the default per-invocation timeout for nodes
// that declare none. Default: no timeout.
func WithNodeTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.nodeTimeout = d
		}
	}
}

// WithRunTimeout sets the default wall-clock limit per run.
// Default: no timeout.
func WithRunTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

// runConfig holds per-run configuration.
type runConfig struct {
	runID    string
	vars     map[string]any
	timeout  time.Duration
	maxSteps int
}

// RunOption configures a single Execute call.
type RunOption func(*runConfig)

// WithRunID sets the run identifier. Default: a fresh UUID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// WithVars sets the run variables visible to every handler.
func WithVars(vars map[string]any) RunOption {
	return func(c *runConfig) {
		if c.vars == nil {
			c.vars = make(map[string]any, len(vars))
		}
		for k, v := range vars {
			c.vars[k] = v
		}
	}
}

// WithVar sets a single run variable.
func WithVar(key string, value any) RunOption {
	return func(c *runConfig) {
		if c.vars == nil {
			c.vars = make(map[string]any)
		}
		c.vars[key] = value
	}
}

// WithTimeout overrides the engine's run timeout for this run.
func WithTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxSteps overrides the engine's dispatch ceiling for this run.
func WithMaxSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}
