package component

import (
	"log/slog"

	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// Dependencies provides the collaborators a Manager needs. Only Registry is
// required.
type Dependencies struct {
	Registry        registry.Registry       // Service registry used for lookups and publication
	Resolver        Resolver                // Callback resolver (can be nil when no callbacks are declared)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Enabler         Enabler                 // Enables and disables sibling components from a Context (can be nil)
	StateListener   StateListener           // Observes state transitions (can be nil)
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// GetResolver returns the resolver, or an empty callback table
func (d *Dependencies) GetResolver() Resolver {
	if d.Resolver != nil {
		return d.Resolver
	}
	return Callbacks{}
}
