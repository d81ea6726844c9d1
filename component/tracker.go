package component

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/filter"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/registry"
)

// lifecycleOwner is the component side of a tracker. Every method except
// State and post must be called with the owner's transition lock held.
type lifecycleOwner interface {
	State() State
	post(task func())
	instanceObject() any
	activateLocked() bool
	deactivateLocked(reason Reason)
	reactivateLocked(reason Reason)
}

// binding records one bound registry entry. service stays nil until the
// object is needed.
type binding struct {
	handle registry.Handle

	mu      sync.Mutex
	service any
	fetched bool
}

// tracker follows the registry entries matching one reference and binds
// the matching subset to the component instance.
//
// matched and bound are guarded by mu. Every other method is called from
// the owner's queue or under its transition lock, so callbacks never run
// concurrently for one tracker.
type tracker struct {
	ref       Reference
	owner     lifecycleOwner
	registry  registry.Registry
	component string
	logger    *slog.Logger
	metrics   *metric.Metrics

	bindInv    *invoker
	unbindInv  *invoker
	updatedInv *invoker

	mu         sync.Mutex
	enabled    bool
	generation uint64
	sub        registry.Subscription
	target     *filter.Filter
	matched    map[int64]registry.Handle
	bound      map[int64]*binding
}

func newTracker(m *Manager, ref Reference) *tracker {
	return &tracker{
		ref:        ref,
		owner:      m,
		registry:   m.registry,
		component:  m.desc.Name,
		logger:     m.logger.With("reference", ref.Name, "interface", ref.Interface),
		metrics:    m.metrics,
		bindInv:    newInvoker(m, ref.Name, "bind", ref.Bind, ShapeService),
		unbindInv:  newInvoker(m, ref.Name, "unbind", ref.Unbind, ShapeService),
		updatedInv: newInvoker(m, ref.Name, "updated", ref.Updated, ShapeService),
		matched:    make(map[int64]registry.Handle),
		bound:      make(map[int64]*binding),
	}
}

// enable subscribes to the reference's interface and seeds the match set
// from a lookup. Calling it again while enabled does nothing.
func (t *tracker) enable(props registry.Properties) {
	t.mu.Lock()
	if t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = true
	t.generation++
	gen := t.generation
	t.target = t.parseTarget(targetFor(t.ref, props))
	target := t.target
	t.mu.Unlock()

	sub, err := t.registry.Subscribe(t.ref.Interface, nil, func(ev registry.Event) {
		t.owner.post(func() { t.handleEvent(gen, ev) })
	})
	if err != nil {
		t.logger.Error("Registry subscription failed", "error", err)
	}

	handles := t.lookup(target)

	t.mu.Lock()
	t.sub = sub
	for _, h := range handles {
		t.matched[h.ID()] = h
	}
	size := len(t.matched)
	t.mu.Unlock()

	t.metrics.RecordReferenceMatches(t.component, t.ref.Name, size)
	t.logger.Debug("Reference enabled", "target", target.String(), "size", size)
}

// disable drops the subscription and all bookkeeping. Bindings still held
// are released without calling unbind.
func (t *tracker) disable() {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = false
	t.generation++
	sub := t.sub
	leftovers := slices.Collect(maps.Values(t.bound))
	t.sub = nil
	t.target = nil
	t.matched = make(map[int64]registry.Handle)
	t.bound = make(map[int64]*binding)
	t.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	for _, b := range leftovers {
		t.release(b)
	}
	t.metrics.RecordReferenceMatches(t.component, t.ref.Name, 0)
}

func (t *tracker) handleEvent(gen uint64, ev registry.Event) {
	t.mu.Lock()
	stale := gen != t.generation || !t.enabled
	t.mu.Unlock()
	if stale {
		return
	}

	switch ev.Kind {
	case registry.Added:
		t.serviceAdded(ev.Handle)
	case registry.Modified:
		t.mu.Lock()
		_, was := t.matched[ev.Handle.ID()]
		is := t.target.Match(ev.Handle.Properties())
		t.mu.Unlock()

		switch {
		case was && is:
			t.serviceModified(ev.Handle)
		case was:
			t.serviceRemoved(ev.Handle)
		case is:
			t.serviceAdded(ev.Handle)
		}
	case registry.Removed:
		t.serviceRemoved(ev.Handle)
	}
}

func (t *tracker) serviceAdded(h registry.Handle) {
	t.mu.Lock()
	if !t.target.Match(h.Properties()) {
		t.mu.Unlock()
		return
	}
	if _, dup := t.matched[h.ID()]; dup {
		t.mu.Unlock()
		return
	}
	t.matched[h.ID()] = h
	size, boundCount := len(t.matched), len(t.bound)
	t.mu.Unlock()

	t.metrics.RecordReferenceMatches(t.component, t.ref.Name, size)
	t.logger.Debug("Service added", "service_id", h.ID(), "size", size)

	state := t.owner.State()
	switch {
	case state == StateUnsatisfied:
		t.owner.activateLocked()
	case !state.Receptive():
	case t.ref.IsDynamic() && (t.ref.IsMultiple() || boundCount == 0):
		if inst := t.owner.instanceObject(); inst != nil {
			t.bind(context.Background(), inst, h)
		}
	}
}

func (t *tracker) serviceModified(h registry.Handle) {
	t.mu.Lock()
	b, bound := t.bound[h.ID()]
	t.mu.Unlock()
	if !bound {
		return
	}

	if inst := t.owner.instanceObject(); inst != nil {
		t.updatedInv.invoke(inst, h, func() (any, bool) { return t.fetch(context.Background(), b) })
	}
}

func (t *tracker) serviceRemoved(h registry.Handle) {
	id := h.ID()

	t.mu.Lock()
	if _, ok := t.matched[id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.matched, id)
	size := len(t.matched)
	_, bound := t.bound[id]
	t.mu.Unlock()

	t.metrics.RecordReferenceMatches(t.component, t.ref.Name, size)
	t.logger.Debug("Service removed", "service_id", id, "size", size, "bound", bound)

	if !t.satisfied() && t.owner.State().Satisfied() {
		t.owner.deactivateLocked(ReasonReference)
	}

	if !t.isBound(id) {
		return
	}

	switch {
	case !t.ref.IsDynamic():
		// Bindings of a static reference are fixed for the activation.
		t.owner.reactivateLocked(ReasonReference)
	case !t.ref.IsMultiple():
		inst := t.owner.instanceObject()
		if !t.bindReplacement(inst, id) && !t.ref.IsOptional() {
			t.owner.deactivateLocked(ReasonReference)
		}
	}

	t.unbindID(id)
}

// bindReplacement binds the best matching entry other than exclude.
func (t *tracker) bindReplacement(inst any, exclude int64) bool {
	if inst == nil {
		return false
	}
	for _, h := range t.candidates() {
		if h.ID() != exclude && t.bind(context.Background(), inst, h) {
			return true
		}
	}
	return false
}

// open binds the current matches to a new instance: every match for
// multiple cardinality, the best one that can be bound otherwise. It
// reports whether the reference ends up satisfied. ctx is passed to the
// registry when service objects are retrieved.
func (t *tracker) open(ctx context.Context, inst any) bool {
	for _, h := range t.candidates() {
		if t.bind(ctx, inst, h) && !t.ref.IsMultiple() {
			break
		}
	}

	t.mu.Lock()
	n := len(t.bound)
	t.mu.Unlock()
	return n > 0 || t.ref.IsOptional()
}

// close unbinds everything, best effort.
func (t *tracker) close(inst any) {
	t.mu.Lock()
	bindings := slices.Collect(maps.Values(t.bound))
	t.bound = make(map[int64]*binding)
	t.mu.Unlock()

	slices.SortFunc(bindings, func(a, b *binding) int { return compareHandles(a.handle, b.handle) })
	for _, b := range bindings {
		t.unbind(inst, b)
	}
}

func (t *tracker) bind(ctx context.Context, inst any, h registry.Handle) bool {
	t.mu.Lock()
	_, already := t.bound[h.ID()]
	t.mu.Unlock()
	if already {
		return true
	}

	b := &binding{handle: h}
	if !t.bindInv.invoke(inst, h, func() (any, bool) { return t.fetch(ctx, b) }) {
		t.logger.Debug("Service gone before bind", "service_id", h.ID())
		t.release(b)
		return false
	}

	t.mu.Lock()
	t.bound[h.ID()] = b
	t.mu.Unlock()
	return true
}

func (t *tracker) unbindID(id int64) {
	t.mu.Lock()
	b, ok := t.bound[id]
	delete(t.bound, id)
	t.mu.Unlock()

	if ok {
		t.unbind(t.owner.instanceObject(), b)
	}
}

// unbind calls the unbind callback when there is an instance and always
// releases the entry afterwards.
func (t *tracker) unbind(inst any, b *binding) {
	if inst != nil {
		t.unbindInv.invoke(inst, b.handle, func() (any, bool) { return t.fetch(context.Background(), b) })
	}
	t.release(b)
}

func (t *tracker) fetch(ctx context.Context, b *binding) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fetched {
		return b.service, true
	}
	svc, err := t.registry.Get(ctx, b.handle)
	if err != nil {
		t.logger.Debug("Service unavailable", "service_id", b.handle.ID(), "error", err)
		return nil, false
	}
	b.service, b.fetched = svc, true
	return svc, true
}

func (t *tracker) release(b *binding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fetched {
		t.registry.Release(b.handle)
		b.service, b.fetched = nil, false
	}
}

// setTargetFilter switches to a new target. Bound entries that no longer
// match are unbound and new matches are bound when there is an instance.
func (t *tracker) setTargetFilter(expr string) {
	f := t.parseTarget(expr)

	t.mu.Lock()
	if !t.enabled || filter.Equal(f, t.target) {
		t.mu.Unlock()
		return
	}
	t.target = f
	t.mu.Unlock()

	handles := t.lookup(f)

	t.mu.Lock()
	t.matched = make(map[int64]registry.Handle, len(handles))
	for _, h := range handles {
		t.matched[h.ID()] = h
	}
	var stale []*binding
	for id, b := range t.bound {
		if !f.Match(b.handle.Properties()) {
			stale = append(stale, b)
			delete(t.bound, id)
		}
	}
	size, boundCount := len(t.matched), len(t.bound)
	t.mu.Unlock()

	t.metrics.RecordReferenceMatches(t.component, t.ref.Name, size)
	t.logger.Debug("Target filter changed", "target", f.String(), "size", size, "unbinding", len(stale))

	inst := t.owner.instanceObject()
	for _, b := range stale {
		t.unbind(inst, b)
	}
	if inst == nil {
		return
	}
	if t.ref.IsMultiple() {
		for _, h := range t.candidates() {
			t.bind(context.Background(), inst, h)
		}
	} else if boundCount == 0 {
		t.bindReplacement(inst, 0)
	}
}

// canApplyFilterChangeLive reports whether switching to expr can happen
// without reactivating the component.
func (t *tracker) canApplyFilterChangeLive(expr string) bool {
	f, _ := filter.Parse(expr)

	t.mu.Lock()
	same := filter.Equal(f, t.target)
	t.mu.Unlock()

	switch {
	case same:
		return true
	case !t.ref.IsDynamic():
		return false
	case t.ref.IsOptional():
		return true
	default:
		return len(t.lookup(f)) > 0
	}
}

func (t *tracker) satisfied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.matched) > 0 || t.ref.IsOptional()
}

func (t *tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.matched)
}

func (t *tracker) isBound(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.bound[id]
	return ok
}

// boundIDs returns a point-in-time snapshot of bound service ids.
func (t *tracker) boundIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := slices.Collect(maps.Keys(t.bound))
	slices.Sort(ids)
	return ids
}

// candidates returns matches that are not bound yet, best first.
func (t *tracker) candidates() []registry.Handle {
	t.mu.Lock()
	out := make([]registry.Handle, 0, len(t.matched))
	for id, h := range t.matched {
		if _, bound := t.bound[id]; !bound {
			out = append(out, h)
		}
	}
	t.mu.Unlock()

	slices.SortFunc(out, compareHandles)
	return out
}

// bindings returns the bound entries, best first.
func (t *tracker) bindings() []*binding {
	t.mu.Lock()
	out := slices.Collect(maps.Values(t.bound))
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b *binding) int { return compareHandles(a.handle, b.handle) })
	return out
}

func (t *tracker) lookup(f *filter.Filter) []registry.Handle {
	handles, err := t.registry.Lookup(t.ref.Interface, f)
	if err != nil {
		if errors.Is(err, errors.ErrPermissionDenied) {
			t.logger.Warn("Registry lookup denied, reference has no matches", "error", err)
		} else {
			t.logger.Error("Registry lookup failed", "error", err)
		}
		return nil
	}
	return handles
}

// parseTarget treats a malformed filter as no target filter.
func (t *tracker) parseTarget(expr string) *filter.Filter {
	if expr == "" {
		return nil
	}
	f, err := filter.Parse(expr)
	if err != nil {
		t.logger.Error("Malformed target filter, matching on interface only", "target", expr, "error", err)
		return nil
	}
	return f
}

func (t *tracker) currentTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target.String()
}

func compareHandles(a, b registry.Handle) int {
	switch {
	case registry.Less(a, b):
		return -1
	case registry.Less(b, a):
		return 1
	default:
		return 0
	}
}
