package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/pkg/worker"
	"github.com/apache/karaf-sub011/registry"
)

// Constructor creates a new implementation object.
type Constructor func() (any, error)

// StateListener observes lifecycle transitions. It runs with the
// component's transition lock held and must not call back into the
// component.
type StateListener func(component string, from, to State)

// ReferenceInfo is a reference declaration with its live statistics.
type ReferenceInfo struct {
	Reference
	Target    string  `json:"target"`
	Size      int     `json:"size"`
	Bound     []int64 `json:"bound"`
	Satisfied bool    `json:"satisfied"`
}

var lastComponentID atomic.Int64

// Manager runs the lifecycle of one component.
//
// Every operation except Dispose is queued and runs on the component's
// serial queue with the transition lock held. Registry events are queued
// the same way, so callbacks into the implementation object never run
// concurrently with each other or with a transition.
type Manager struct {
	desc     Descriptor
	ctor     Constructor
	deps     Dependencies
	id       int64
	registry registry.Registry
	resolver Resolver
	enabler  Enabler
	listener StateListener
	logger   *slog.Logger
	metrics  *metric.Metrics

	queue     *worker.Serial
	destroyed chan struct{}

	activateInv   *invoker
	deactivateInv *invoker
	modifiedInv   *invoker

	// mu is the transition lock.
	mu           sync.Mutex
	state        atomic.Int32
	trackers     atomic.Pointer[[]*tracker]
	inst         atomic.Pointer[Instance]
	config       registry.Properties
	hasConfig    bool
	factoryProps registry.Properties
	registration registry.Registration
	disposing    bool

	// creating is set while a delayed component is created for a Get.
	creating atomic.Bool

	// parent is set on instances created by a ComponentFactory.
	parent *Manager

	childMu        sync.Mutex
	children       map[*Manager]struct{}
	acceptChildren bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfiguration sets the initial configuration properties.
func WithConfiguration(props registry.Properties) ManagerOption {
	return func(m *Manager) {
		if props != nil {
			m.config, m.hasConfig = props.Clone(), true
		}
	}
}

// NewManager creates a disabled component.
func NewManager(desc Descriptor, ctor Constructor, deps Dependencies, opts ...ManagerOption) (*Manager, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if ctor == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil constructor", errors.ErrInvalidDescriptor),
			"Manager", "NewManager", "component construction")
	}
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil registry"), "Manager", "NewManager", "component construction")
	}

	id := lastComponentID.Add(1)
	logger := deps.GetLoggerWithComponent(desc.Name).With("component_id", id)
	metrics := deps.MetricsRegistry.CoreMetrics()

	m := &Manager{
		desc:      desc,
		ctor:      ctor,
		deps:      deps,
		id:        id,
		registry:  deps.Registry,
		resolver:  deps.GetResolver(),
		enabler:   deps.Enabler,
		listener:  deps.StateListener,
		logger:    logger,
		metrics:   metrics,
		destroyed: make(chan struct{}),
		children:  make(map[*Manager]struct{}),
		queue: worker.NewSerial(desc.Name,
			worker.WithMetrics(metrics),
			worker.WithLogger(logger)),
	}
	m.activateInv = newInvoker(m, "", "activate", desc.Activate, ShapeLifecycle)
	m.deactivateInv = newInvoker(m, "", "deactivate", desc.Deactivate, ShapeDeactivate)
	m.modifiedInv = newInvoker(m, "", "modified", desc.Modified, ShapeLifecycle)

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns the component name.
func (m *Manager) Name() string { return m.desc.Name }

// Label names the component in state notifications and metrics. Factory
// instances are labelled "<name>#<id>".
func (m *Manager) Label() string {
	if m.parent != nil {
		return fmt.Sprintf("%s#%d", m.desc.Name, m.id)
	}
	return m.desc.Name
}

// ID returns the runtime-assigned component id.
func (m *Manager) ID() int64 { return m.id }

// Descriptor returns a copy of the component descriptor.
func (m *Manager) Descriptor() Descriptor { return m.desc }

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Instance returns the implementation object, or nil when the component
// is not active.
func (m *Manager) Instance() any { return m.instanceObject() }

// References returns each declared reference with its live statistics.
func (m *Manager) References() []ReferenceInfo {
	byName := make(map[string]*tracker)
	for _, t := range m.refTrackers() {
		byName[t.ref.Name] = t
	}

	out := make([]ReferenceInfo, 0, len(m.desc.References))
	for _, ref := range m.desc.References {
		info := ReferenceInfo{Reference: ref, Target: ref.Target, Satisfied: ref.IsOptional()}
		if t, ok := byName[ref.Name]; ok {
			info.Target = t.currentTarget()
			info.Size = t.size()
			info.Bound = t.boundIDs()
			info.Satisfied = t.satisfied()
		}
		out = append(out, info)
	}
	return out
}

// Enable enables the component and then tries to activate it.
func (m *Manager) Enable() *Future {
	return m.submit("enable", func() bool {
		if !m.enableLocked() {
			return false
		}
		m.activateLocked()
		return true
	})
}

// Disable deactivates the component if needed and drops its trackers.
func (m *Manager) Disable() *Future {
	return m.submit("disable", m.disableLocked)
}

// Activate tries to activate an enabled component.
func (m *Manager) Activate() *Future {
	return m.submit("activate", m.activateLocked)
}

// Deactivate deactivates a satisfied component. It never fails.
func (m *Manager) Deactivate(reason Reason) *Future {
	return m.submit("deactivate", func() bool {
		m.deactivateLocked(reason)
		return true
	})
}

// Reconfigure applies new configuration properties. nil means the
// configuration was deleted.
func (m *Manager) Reconfigure(props registry.Properties) *Future {
	var snapshot registry.Properties
	if props != nil {
		snapshot = props.Clone()
	}
	return m.submit("reconfigure", func() bool { return m.reconfigureLocked(snapshot) })
}

// Dispose destroys the component synchronously. Queued operations that
// have not started are discarded.
func (m *Manager) Dispose(reason Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateDestroyed {
		return
	}
	m.disposeLocked(reason)
}

// Flush waits until every queued operation and registry event has been
// processed.
func (m *Manager) Flush(ctx context.Context) error {
	return m.queue.Wait(ctx)
}

// QueueStats returns statistics of the component's queue.
func (m *Manager) QueueStats() worker.Stats {
	return m.queue.Stats()
}

func (m *Manager) submit(op string, fn func() bool) *Future {
	f := newFuture(m.destroyed)
	err := m.queue.Submit(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.State() == StateDestroyed {
			f.complete(false)
			return
		}
		start := time.Now()
		ok := fn()
		m.metrics.RecordTransitionDuration(m.desc.Name, op, time.Since(start))
		f.complete(ok)
	})
	if err != nil {
		m.logger.Debug("Operation rejected", "operation", op, "error", err)
		f.complete(false)
	}
	return f
}

// post queues a task that runs with the transition lock held.
func (m *Manager) post(task func()) {
	err := m.queue.Submit(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.State() != StateDestroyed {
			task()
		}
	})
	if err != nil {
		m.logger.Debug("Registry event dropped", "error", err)
	}
}

func (m *Manager) transition(ev event) bool {
	from := m.State()
	to, ok := next(from, ev)
	if !ok {
		m.logger.Debug("Transition rejected", "state", from.String(), "event", ev.String())
		return false
	}
	m.state.Store(int32(to))

	if from != to {
		label := m.Label()
		m.metrics.RecordTransition(label, from.String(), to.String(), int(to))
		m.logger.Debug("State changed", "from", from.String(), "to", to.String())
		if m.listener != nil {
			m.listener(label, from, to)
		}
	}
	return true
}

func (m *Manager) refTrackers() []*tracker {
	if p := m.trackers.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Manager) instanceObject() any {
	if inst := m.inst.Load(); inst != nil {
		return inst.Object
	}
	return nil
}

func (m *Manager) enableLocked() bool {
	switch m.State() {
	case StateDisabled:
	case StateDestroyed:
		return false
	default:
		return true
	}

	m.transition(evEnable)

	props := m.propertiesLocked()
	trackers := make([]*tracker, 0, len(m.desc.References))
	for _, ref := range m.desc.References {
		t := newTracker(m, ref)
		trackers = append(trackers, t)
	}
	m.trackers.Store(&trackers)
	for _, t := range trackers {
		t.enable(props)
	}

	m.logger.Debug("Component enabled", "references", len(trackers))
	return true
}

func (m *Manager) disableLocked() bool {
	switch m.State() {
	case StateDisabled:
		return true
	case StateDestroyed:
		return false
	}

	m.deactivateLocked(ReasonDisabled)
	if m.State() == StateDestroyed {
		return true
	}

	m.disableTrackersLocked()
	m.transition(evDisable)
	m.logger.Debug("Component disabled")
	return true
}

func (m *Manager) disableTrackersLocked() {
	for _, t := range m.refTrackers() {
		t.disable()
	}
	m.trackers.Store(nil)
}

func (m *Manager) disposeLocked(reason Reason) {
	m.disposing = true
	m.deactivateLocked(reason)
	m.disableTrackersLocked()
	m.transition(evDispose)

	if n := m.queue.Close(); n > 0 {
		m.logger.Debug("Discarded queued operations", "count", n)
	}
	close(m.destroyed)

	if m.parent != nil {
		m.parent.forgetChild(m)
	}
	m.logger.Info("Component disposed", "reason", reason.String())
}
