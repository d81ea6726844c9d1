package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/config"
	"github.com/apache/karaf-sub011/container"
	"github.com/apache/karaf-sub011/metric"
)

// Service names published by the demo components.
const (
	ClockService   = "demo.Clock"
	GreeterService = "demo.Greeter"
)

// Clock tells the time.
type Clock interface {
	Now() time.Time
}

// Greeter builds greetings.
type Greeter interface {
	Greet(name string) string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// greeter is a delayed component: it is created when first used.
type greeter struct {
	mu       sync.RWMutex
	clock    Clock
	greeting string
	excited  bool
}

func (g *greeter) configure(ctx *component.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.greeting = config.GetString(ctx.Properties(), "greeting", "hello")
	g.excited = config.GetBool(ctx.Properties(), "excited", false)
	return nil
}

func (g *greeter) Greet(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	mark := ""
	if g.excited {
		mark = "!"
	}
	return fmt.Sprintf("%s, %s%s (%s)", g.greeting, name, mark, g.clock.Now().Format(time.Kitchen))
}

// announcer periodically greets through every bound Greeter.
type announcer struct {
	mu       sync.Mutex
	greeters []Greeter
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	name     string
	metrics  metric.MetricsRegistrar
	bound    *prometheus.GaugeVec
	sent     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func (a *announcer) bind(g Greeter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.greeters = append(a.greeters, g)
	a.recordBoundLocked()
}

func (a *announcer) unbind(g Greeter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, b := range a.greeters {
		if b == g {
			a.greeters = append(a.greeters[:i], a.greeters[i+1:]...)
			break
		}
	}
	a.recordBoundLocked()
}

func (a *announcer) recordBoundLocked() {
	if a.bound != nil {
		a.bound.WithLabelValues(a.name).Set(float64(len(a.greeters)))
	}
}

// registerMetrics adds the announcer's own metrics. Failures leave the
// announcer running without them.
func (a *announcer) registerMetrics(reg metric.MetricsRegistrar) {
	bound := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metric.Namespace,
		Subsystem: "demo",
		Name:      "bound_greeters",
		Help:      "Greeters currently bound to the announcer",
	}, []string{"component"})
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "demo",
		Name:      "announcements_total",
		Help:      "Greetings announced",
	}, []string{"audience"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metric.Namespace,
		Subsystem: "demo",
		Name:      "announce_duration_seconds",
		Help:      "Time spent on one announcement round",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component"})

	if err := reg.RegisterGaugeVec(a.name, "bound_greeters", bound); err != nil {
		a.logger.Warn("Metric registration failed", "metric", "bound_greeters", "error", err)
	} else {
		a.bound = bound
	}
	if err := reg.RegisterCounterVec(a.name, "announcements_total", sent); err != nil {
		a.logger.Warn("Metric registration failed", "metric", "announcements_total", "error", err)
	} else {
		a.sent = sent
	}
	if err := reg.RegisterHistogramVec(a.name, "announce_duration_seconds", duration); err != nil {
		a.logger.Warn("Metric registration failed", "metric", "announce_duration_seconds", "error", err)
	} else {
		a.duration = duration
	}
	a.metrics = reg
}

func (a *announcer) unregisterMetrics() {
	if a.metrics == nil {
		return
	}
	a.metrics.Unregister(a.name, "bound_greeters")
	a.metrics.Unregister(a.name, "announcements_total")
	a.metrics.Unregister(a.name, "announce_duration_seconds")
	a.metrics = nil
}

func (a *announcer) start(cctx *component.Context) error {
	props := cctx.Properties()
	interval := config.GetDuration(props, "interval", 10*time.Second)
	audience := config.GetStringSlice(props, "audience", []string{"world"})
	repeat := max(config.GetInt(props, "repeat", 1), 1)
	a.logger = cctx.Logger()
	a.name = cctx.ComponentName()

	if reg := cctx.Metrics(); reg != nil {
		a.registerMetrics(reg)
		a.mu.Lock()
		a.recordBoundLocked()
		a.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for range repeat {
					a.announce(audience)
				}
			}
		}
	}()
	return nil
}

func (a *announcer) announce(audience []string) {
	start := time.Now()
	a.mu.Lock()
	greeters := append([]Greeter(nil), a.greeters...)
	a.mu.Unlock()
	for _, g := range greeters {
		for _, who := range audience {
			a.logger.Info(g.Greet(who))
			if a.sent != nil {
				a.sent.WithLabelValues(who).Inc()
			}
		}
	}
	if a.duration != nil {
		a.duration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())
	}
}

func (a *announcer) stop(_ *component.Context, reason component.Reason) error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	a.unregisterMetrics()
	a.logger.Info("Announcer stopped", "reason", reason.String())
	return nil
}

// registerDemo adds the demo components to rt.
func registerDemo(rt *container.Runtime) error {
	demos := []struct {
		desc      component.Descriptor
		ctor      component.Constructor
		callbacks component.Callbacks
	}{
		{
			desc: component.Descriptor{Name: "clock", Services: []string{ClockService}},
			ctor: func() (any, error) { return systemClock{}, nil },
		},
		{
			desc: component.Descriptor{
				Name:       "greeter",
				Services:   []string{GreeterService},
				Activation: component.Delayed,
				Activate:   "configure",
				Modified:   "configure",
				Properties: map[string]any{"greeting": "hello", "excited": false},
				References: []component.Reference{{
					Name:      "clock",
					Interface: ClockService,
					Bind:      "setClock",
				}},
			},
			ctor: func() (any, error) { return &greeter{}, nil },
			callbacks: component.Callbacks{
				"setClock":  component.BindService(func(g *greeter, c Clock) { g.clock = c }),
				"configure": component.OnActivate((*greeter).configure),
			},
		},
		{
			desc: component.Descriptor{
				Name:       "announcer",
				Activate:   "start",
				Deactivate: "stop",
				Properties: map[string]any{"interval": "10s", "audience": []string{"world"}, "repeat": 1},
				References: []component.Reference{{
					Name:        "greeters",
					Interface:   GreeterService,
					Cardinality: component.Multiple,
					Optionality: component.Optional,
					Policy:      component.Dynamic,
					Bind:        "bind",
					Unbind:      "unbind",
				}},
			},
			ctor: func() (any, error) { return &announcer{}, nil },
			callbacks: component.Callbacks{
				"bind":   component.BindService((*announcer).bind),
				"unbind": component.BindService((*announcer).unbind),
				"start":  component.OnActivate((*announcer).start),
				"stop":   component.OnDeactivate((*announcer).stop),
			},
		},
	}

	for _, d := range demos {
		if _, err := rt.Register(d.desc, d.ctor, d.callbacks); err != nil {
			return fmt.Errorf("register %s: %w", d.desc.Name, err)
		}
	}
	return nil
}
