// Package component implements the lifecycle of declarative service
// components.
//
// A component is declared by a Descriptor: the services it publishes, the
// references (dependencies) it needs from the service registry, and the
// names of its lifecycle and binding callbacks. A Manager owns one
// component and drives it through its states:
//
//	Disabled -> Enabled -> Unsatisfied -> Activating -> Active | Registered | Factory
//	                          ^                                      |
//	                          +------------ Deactivating <-----------+
//
// Destroyed is terminal and reachable from every state through Dispose.
//
// # References
//
// Each reference is followed by a tracker that counts the registry entries
// matching the reference interface and target filter, binds the matching
// subset to the implementation object and reports whether the reference is
// satisfied (at least one match, or optional). Static references are fixed
// for the lifetime of an activation: losing a bound static service
// reactivates the component. Dynamic references are rebound in place.
//
// # Callbacks
//
// Callback names are resolved through a Resolver into typed callables on
// first use. Callbacks is a table-backed Resolver, and BindService,
// OnActivate and friends adapt typed functions:
//
//	resolver := component.Callbacks{
//		"setLog":   component.BindService(func(g *Greeter, l Logger) { g.log = l }),
//		"activate": component.OnActivate(func(g *Greeter, ctx *component.Context) error { return g.start(ctx) }),
//	}
//
// A name that cannot be resolved is logged once and then ignored. Errors
// and panics from bind, unbind, updated and deactivate callbacks are logged
// and otherwise ignored; an activate failure aborts the activation.
//
// # Concurrency
//
// Every operation except Dispose is queued on the component's serial queue
// and runs with its transition lock held; the returned Future completes
// when it has run. Registry events are queued the same way, so a registry
// delivering events never blocks on a transition in progress. Dispose runs
// synchronously and discards whatever is still queued.
//
// Delayed components publish a service factory; the implementation is
// created by the first Get and discarded after the last Release. A cycle
// of delayed components that need each other to activate deadlocks.
package component
