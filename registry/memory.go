package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/filter"
	"github.com/apache/karaf-sub011/metric"
)

// AccessPolicy decides whether the registry's caller may see services
// published under a name. A non-nil error denies access.
type AccessPolicy func(service string) error

// Option configures a Memory registry
type Option func(*Memory)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records the number of published services
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Memory) { m.metrics = metrics }
}

// WithAccessPolicy restricts Lookup and Get
func WithAccessPolicy(policy AccessPolicy) Option {
	return func(m *Memory) { m.policy = policy }
}

// Memory is an in-process Registry.
//
// Unregister does not call ServiceFactory.UngetService for uses still
// outstanding; the factory sees UngetService only when the last user calls
// Release, which may happen after unregistration.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	nextSub int64
	entries map[int64]*entry
	subs    map[int64]*subscription

	policy  AccessPolicy
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewMemory creates an empty registry
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[int64]*entry),
		subs:    make(map[int64]*subscription),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "registry")
	return m
}

type entry struct {
	id       int64
	services []string
	owner    *Memory

	mu    sync.RWMutex
	props Properties

	service any
	factory ServiceFactory

	useMu    sync.Mutex
	uses     int
	cached   any
	creating *creation

	gone atomic.Bool
}

func (e *entry) ID() int64 { return e.id }

func (e *entry) Properties() Properties {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.props.Clone()
}

func (e *entry) Property(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[key]
	return v, ok
}

func (e *entry) Ranking() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Ranking(e.props)
}

func (e *entry) String() string {
	return fmt.Sprintf("service %d %v", e.id, e.services)
}

func (e *entry) publishedAs(service string) bool {
	return slices.Contains(e.services, service)
}

// creation marks a running ServiceFactory.GetService. The pointer is also
// the context key that tags the calling path of that call.
type creation struct {
	done chan struct{}
}

type subscription struct {
	id       int64
	service  string
	filter   *filter.Filter
	listener Listener
	owner    *Memory
	closed   atomic.Bool
}

func (s *subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()
}

type registration struct {
	owner *Memory
	entry *entry
}

func (r *registration) Handle() Handle { return r.entry }

func (r *registration) Update(props Properties) error {
	return r.owner.update(r.entry, props)
}

func (r *registration) Unregister() error {
	return r.owner.unregister(r.entry)
}

// Publish registers svc under the given service names
func (m *Memory) Publish(services []string, svc any, props Properties) (Registration, error) {
	if len(services) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no service names"), "Memory", "Publish", "service registration")
	}
	if svc == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil service object"), "Memory", "Publish", "service registration")
	}

	m.mu.Lock()
	m.nextID++
	e := &entry{
		id:       m.nextID,
		services: slices.Clone(services),
		owner:    m,
		service:  svc,
	}
	e.factory, _ = svc.(ServiceFactory)
	e.props = e.withReserved(props)
	m.entries[e.id] = e
	subs := m.snapshotSubs()
	count := len(m.entries)
	m.mu.Unlock()

	m.metrics.RecordRegisteredServices(count)
	m.logger.Debug("Service published", "service_id", e.id, "services", e.services)

	snapshot := e.Properties()
	for _, s := range subs {
		if e.publishedAs(s.service) && s.filter.Match(snapshot) {
			m.deliver(s, Event{Kind: Added, Handle: e})
		}
	}
	return &registration{owner: m, entry: e}, nil
}

func (e *entry) withReserved(props Properties) Properties {
	out := props.Clone()
	out[PropObjectClass] = slices.Clone(e.services)
	out[PropServiceID] = e.id
	return out
}

func (m *Memory) update(e *entry, props Properties) error {
	if e.gone.Load() {
		return errors.WrapInvalid(errors.ErrNotRegistered, "Memory", "Update", "property update")
	}

	e.mu.Lock()
	old := e.props
	e.props = e.withReserved(props)
	current := e.props.Clone()
	e.mu.Unlock()

	m.mu.RLock()
	subs := m.snapshotSubs()
	m.mu.RUnlock()

	for _, s := range subs {
		if !e.publishedAs(s.service) {
			continue
		}
		was, is := s.filter.Match(old), s.filter.Match(current)
		switch {
		case was && is:
			m.deliver(s, Event{Kind: Modified, Handle: e})
		case !was && is:
			m.deliver(s, Event{Kind: Added, Handle: e})
		case was && !is:
			m.deliver(s, Event{Kind: Removed, Handle: e})
		}
	}
	return nil
}

func (m *Memory) unregister(e *entry) error {
	m.mu.Lock()
	if _, ok := m.entries[e.id]; !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotRegistered, "Memory", "Unregister", "service unregistration")
	}
	delete(m.entries, e.id)
	subs := m.snapshotSubs()
	count := len(m.entries)
	m.mu.Unlock()

	m.metrics.RecordRegisteredServices(count)
	m.logger.Debug("Service unregistering", "service_id", e.id, "services", e.services)

	snapshot := e.Properties()
	for _, s := range subs {
		if e.publishedAs(s.service) && s.filter.Match(snapshot) {
			m.deliver(s, Event{Kind: Removed, Handle: e})
		}
	}
	e.gone.Store(true)
	return nil
}

func (m *Memory) snapshotSubs() []*subscription {
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, b *subscription) int { return cmp.Compare(a.id, b.id) })
	return subs
}

func (m *Memory) deliver(s *subscription, ev Event) {
	if s.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Registry listener panicked", "service", s.service, "event", ev.Kind.String(), "panic", r)
		}
	}()
	s.listener(ev)
}

func (m *Memory) checkAccess(services ...string) error {
	if m.policy == nil {
		return nil
	}
	var last error
	for _, svc := range services {
		if last = m.policy(svc); last == nil {
			return nil
		}
	}
	return errors.Wrap(fmt.Errorf("%w: %v", errors.ErrPermissionDenied, last), "Memory", "checkAccess", "access check")
}

// Lookup returns matching entries, best first
func (m *Memory) Lookup(service string, f *filter.Filter) ([]Handle, error) {
	if err := m.checkAccess(service); err != nil {
		return nil, err
	}

	m.mu.RLock()
	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.publishedAs(service) {
			candidates = append(candidates, e)
		}
	}
	m.mu.RUnlock()

	var out []Handle
	for _, e := range candidates {
		if f.Match(e.Properties()) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Handle) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// Subscribe registers a listener for entries published under service
func (m *Memory) Subscribe(service string, f *filter.Filter, l Listener) (Subscription, error) {
	if l == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil listener"), "Memory", "Subscribe", "listener registration")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	s := &subscription{id: m.nextSub, service: service, filter: f, listener: l, owner: m}
	m.subs[s.id] = s
	return s, nil
}

// Get returns the service object, creating it through the factory on first use
func (m *Memory) Get(ctx context.Context, h Handle) (any, error) {
	e, err := m.entryFor(h)
	if err != nil {
		return nil, err
	}
	if err := m.checkAccess(e.services...); err != nil {
		return nil, err
	}
	if e.gone.Load() {
		return nil, errors.WrapTransient(errors.ErrServiceGone, "Memory", "Get", fmt.Sprintf("get service %d", e.id))
	}

	e.useMu.Lock()
	defer e.useMu.Unlock()

	if e.factory == nil {
		e.uses++
		return e.service, nil
	}

	for e.creating != nil {
		c := e.creating
		if ctx.Value(c) != nil {
			return nil, errors.WrapTransient(errors.ErrServiceGone, "Memory", "Get",
				fmt.Sprintf("service %d is being created on this call path", e.id))
		}
		e.useMu.Unlock()
		select {
		case <-c.done:
			e.useMu.Lock()
		case <-ctx.Done():
			e.useMu.Lock()
			return nil, errors.WrapTransient(ctx.Err(), "Memory", "Get", fmt.Sprintf("wait for service %d", e.id))
		}
	}

	if e.uses == 0 {
		svc, err := m.create(ctx, e)
		if err != nil {
			return nil, errors.WrapTransient(err, "Memory", "Get", fmt.Sprintf("service factory for %d", e.id))
		}
		if svc == nil {
			return nil, errors.WrapTransient(errors.ErrServiceGone, "Memory", "Get", fmt.Sprintf("service factory for %d", e.id))
		}
		e.cached = svc
	}
	e.uses++
	return e.cached, nil
}

// create runs the entry's factory without holding useMu. It is called and
// returns with useMu held.
func (m *Memory) create(ctx context.Context, e *entry) (svc any, err error) {
	c := &creation{done: make(chan struct{})}
	e.creating = c
	e.useMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			svc, err = nil, fmt.Errorf("service factory panicked: %v", r)
		}
		e.useMu.Lock()
		e.creating = nil
		close(c.done)
	}()
	return e.factory.GetService(context.WithValue(ctx, c, e.id), e)
}

// Release drops one use of the entry
func (m *Memory) Release(h Handle) {
	e, err := m.entryFor(h)
	if err != nil {
		return
	}

	e.useMu.Lock()
	defer e.useMu.Unlock()

	if e.uses == 0 {
		return
	}
	e.uses--
	if e.uses == 0 && e.factory != nil && e.cached != nil {
		svc := e.cached
		e.cached = nil
		e.factory.UngetService(e, svc)
	}
}

// Uses returns the outstanding Get count for an entry
func (m *Memory) Uses(h Handle) int {
	e, err := m.entryFor(h)
	if err != nil {
		return 0
	}
	e.useMu.Lock()
	defer e.useMu.Unlock()
	return e.uses
}

// Len returns the number of published services
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) entryFor(h Handle) (*entry, error) {
	e, ok := h.(*entry)
	if !ok || e == nil || e.owner != m {
		return nil, errors.WrapInvalid(fmt.Errorf("foreign handle %v", h), "Memory", "Get", "handle check")
	}
	return e, nil
}
