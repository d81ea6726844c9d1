// Package registry defines the service registry the component runtime
// consumes: publishing services under one or more service names with a
// property set, looking them up with filters, and subscribing to their
// arrival, modification and departure.
//
// Memory is an in-process implementation. Events are delivered
// synchronously on the goroutine that caused them, so for a single entry
// Added always precedes Modified and Removed.
package registry

import (
	"context"
	"maps"

	"github.com/apache/karaf-sub011/filter"
)

// Standard service property keys.
const (
	PropObjectClass = "objectClass"
	PropServiceID   = "service.id"
	PropRanking     = "service.ranking"
)

// Properties is a service or component property set.
type Properties map[string]any

// Clone returns a shallow copy. Cloning nil yields an empty set.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	maps.Copy(out, p)
	return out
}

// Get returns the value for key.
func (p Properties) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the value for key when it is a string.
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// EventKind classifies a registry event.
type EventKind int

const (
	// Added is delivered when an entry starts matching a subscription.
	Added EventKind = iota
	// Modified is delivered when a matching entry's properties change.
	Modified
	// Removed is delivered when an entry is unregistered or stops
	// matching. The entry can still be retrieved while listeners run.
	Removed
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one registry notification.
type Event struct {
	Kind   EventKind
	Handle Handle
}

// Listener receives registry events.
type Listener func(Event)

// Handle is an opaque reference to one registry entry, independent of
// whether its service object was retrieved.
type Handle interface {
	// ID is unique for the lifetime of the registry.
	ID() int64
	// Properties returns a snapshot of the entry's current properties.
	Properties() Properties
	// Property returns a single property.
	Property(key string) (any, bool)
	// Ranking returns service.ranking, or 0.
	Ranking() int
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Close()
}

// Registration is the publisher's side of a registry entry.
type Registration interface {
	Handle() Handle
	// Update replaces the entry's properties, keeping the reserved keys.
	Update(props Properties) error
	// Unregister removes the entry. Returns ErrNotRegistered when called
	// twice.
	Unregister() error
}

// ServiceFactory lets a publisher create the service object lazily. The
// registry calls GetService on the first Get of the entry and UngetService
// when the last user releases it. ctx carries the creations in progress on
// the calling path; a factory that gets other services while creating its
// own must pass it on.
type ServiceFactory interface {
	GetService(ctx context.Context, h Handle) (any, error)
	UngetService(h Handle, service any)
}

// Registry is the capability consumed by the component runtime.
type Registry interface {
	// Lookup returns the entries published under service that match f,
	// best first: highest ranking, then lowest id.
	Lookup(service string, f *filter.Filter) ([]Handle, error)
	// Subscribe delivers events for entries published under service that
	// match f.
	Subscribe(service string, f *filter.Filter, l Listener) (Subscription, error)
	// Get returns the service object and counts a use. A Get issued while
	// the same entry's factory is running on the calling path fails with
	// ErrServiceGone; other callers wait for the factory or for ctx.
	Get(ctx context.Context, h Handle) (any, error)
	// Release drops a use obtained through Get.
	Release(h Handle)
	// Publish registers svc, which may be a ServiceFactory.
	Publish(services []string, svc any, props Properties) (Registration, error)
}

// Ranking extracts service.ranking from a property set.
func Ranking(props Properties) int {
	switch v := props[PropRanking].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Less orders handles best first: highest ranking, then lowest id.
func Less(a, b Handle) bool {
	ra, rb := a.Ranking(), b.Ranking()
	if ra != rb {
		return ra > rb
	}
	return a.ID() < b.ID()
}
