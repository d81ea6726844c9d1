// Package health reports the health of components and of the runtime as a
// whole.
//
// Health levels
//
// A component's level follows its lifecycle state:
//
//	active, registered, factory                      healthy
//	enabled, unsatisfied, activating, deactivating  degraded
//	disabled, destroyed                              unhealthy
//
// Monitor keeps the latest Status per component. Its ObserveState method
// has the shape of component.StateListener so it can be handed to a
// Manager directly:
//
//	monitor := health.NewMonitor()
//	deps := component.Dependencies{Registry: reg, StateListener: monitor.ObserveState}
//
//	system := monitor.AggregateHealth("scr")
//	if system.IsUnhealthy() {
//	    log.Printf("runtime unhealthy: %s", system.Message)
//	}
//
// Aggregation rules: any unhealthy sub-status makes the aggregate
// unhealthy; otherwise any degraded one makes it degraded.
//
// Error text exposed through FromError is sanitized: URLs, file paths, IP
// addresses, ports and credential-looking pairs are replaced with
// placeholders.
package health
