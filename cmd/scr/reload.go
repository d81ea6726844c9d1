package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/config"
	"github.com/apache/karaf-sub011/configadmin"
	"github.com/apache/karaf-sub011/health"
	"github.com/apache/karaf-sub011/natsclient"
)

// reloadOnHangup re-reads the configuration file on SIGHUP until ctx is
// done.
func reloadOnHangup(ctx context.Context, path string, current *config.SafeConfig, target configadmin.Target, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			n, err := reloadConfig(path, current, target, logger)
			if err != nil {
				logger.Error("Configuration reload failed", "path", path, "error", err)
				continue
			}
			logger.Info("Configuration reloaded", "path", path, "components_changed", n)
		}
	}
}

// reloadConfig loads path, stores it in current and pushes every changed
// component configuration to target. Settings other than component
// configuration take effect on restart.
func reloadConfig(path string, current *config.SafeConfig, target configadmin.Target, logger *slog.Logger) (int, error) {
	next, err := config.Load(path)
	if err != nil {
		return 0, err
	}
	prev := current.Get()
	if err := current.Update(next); err != nil {
		return 0, err
	}

	// prev is a normalized copy; compare against the same form.
	changed := config.ChangedComponents(prev, next.Clone())
	for name, props := range changed {
		if err := target.Reconfigure(name, props); err != nil {
			logger.Warn("Component reconfiguration failed", "name", name, "error", err)
		}
	}
	return len(changed), nil
}

// trackNATSHealth reports the NATS connection in the runtime's health.
func trackNATSHealth(nc *natsclient.Client, monitor *health.Monitor) {
	report := func(healthy bool) {
		if healthy {
			monitor.Update("nats", health.NewHealthy("nats", "Connected"))
			return
		}
		monitor.Update("nats", health.NewUnhealthy("nats", fmt.Sprintf("NATS %s", nc.Status())))
	}
	nc.OnHealthChange(report)
	report(nc.IsHealthy())
}

// availabilityLog reports components gaining or losing their service.
func availabilityLog(logger *slog.Logger) component.StateListener {
	return func(name string, from, to component.State) {
		switch {
		case from == component.StateActivating && to.Satisfied():
			logger.Info("Component available", "name", name, "state", to.String())
		case from == component.StateDeactivating && to == component.StateUnsatisfied:
			logger.Warn("Component unavailable", "name", name)
		}
	}
}
