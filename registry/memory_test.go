package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/filter"
	"github.com/apache/karaf-sub011/metric"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%d", ev.Kind, ev.Handle.ID()))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func ids(handles []Handle) []int64 {
	out := make([]int64, len(handles))
	for i, h := range handles {
		out[i] = h.ID()
	}
	return out
}

func TestPublishLookupOrdering(t *testing.T) {
	m := NewMemory()

	r1, err := m.Publish([]string{"log"}, "low", Properties{PropRanking: 1})
	require.NoError(t, err)
	r2, err := m.Publish([]string{"log"}, "high", Properties{PropRanking: 10})
	require.NoError(t, err)
	r3, err := m.Publish([]string{"log", "audit"}, "tie", Properties{PropRanking: 10})
	require.NoError(t, err)
	_, err = m.Publish([]string{"other"}, "x", nil)
	require.NoError(t, err)

	handles, err := m.Lookup("log", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.Handle().ID(), r3.Handle().ID(), r1.Handle().ID()}, ids(handles))

	handles, err = m.Lookup("log", filter.MustParse("(service.ranking<=5)"))
	require.NoError(t, err)
	assert.Equal(t, []int64{r1.Handle().ID()}, ids(handles))

	handles, err = m.Lookup("audit", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{r3.Handle().ID()}, ids(handles))

	props := r3.Handle().Properties()
	assert.Equal(t, []string{"log", "audit"}, props[PropObjectClass])
	assert.Equal(t, r3.Handle().ID(), props[PropServiceID])
}

func TestPublishValidation(t *testing.T) {
	m := NewMemory()

	_, err := m.Publish(nil, "x", nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = m.Publish([]string{"a"}, nil, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestSubscribeEvents(t *testing.T) {
	m := NewMemory()
	rec := &recorder{}

	sub, err := m.Subscribe("log", filter.MustParse("(lang=en)"), rec.listen)
	require.NoError(t, err)

	reg, err := m.Publish([]string{"log"}, "svc", Properties{"lang": "en"})
	require.NoError(t, err)
	id := reg.Handle().ID()

	require.NoError(t, reg.Update(Properties{"lang": "en", "v": 2}))
	require.NoError(t, reg.Update(Properties{"lang": "fr"}))
	require.NoError(t, reg.Update(Properties{"lang": "de"}))
	require.NoError(t, reg.Update(Properties{"lang": "en"}))
	require.NoError(t, reg.Unregister())

	want := []string{
		fmt.Sprintf("added:%d", id),
		fmt.Sprintf("modified:%d", id),
		fmt.Sprintf("removed:%d", id),
		fmt.Sprintf("added:%d", id),
		fmt.Sprintf("removed:%d", id),
	}
	if diff := cmp.Diff(want, rec.get()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	sub.Close()
	sub.Close()
	_, err = m.Publish([]string{"log"}, "svc2", Properties{"lang": "en"})
	require.NoError(t, err)
	assert.Len(t, rec.get(), len(want))
}

func TestUnregisterTwice(t *testing.T) {
	m := NewMemory()
	reg, err := m.Publish([]string{"log"}, "svc", nil)
	require.NoError(t, err)

	require.NoError(t, reg.Unregister())
	err = reg.Unregister()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotRegistered))
	assert.True(t, errors.Is(reg.Update(nil), errors.ErrNotRegistered))
}

func TestGetDuringRemovedEvent(t *testing.T) {
	m := NewMemory()
	reg, err := m.Publish([]string{"log"}, "svc", nil)
	require.NoError(t, err)

	var during any
	_, err = m.Subscribe("log", nil, func(ev Event) {
		if ev.Kind == Removed {
			during, _ = m.Get(context.Background(), ev.Handle)
			m.Release(ev.Handle)
		}
	})
	require.NoError(t, err)

	require.NoError(t, reg.Unregister())
	assert.Equal(t, "svc", during)

	_, err = m.Get(context.Background(), reg.Handle())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceGone))
	assert.True(t, errors.IsTransient(err))
}

type countingFactory struct {
	gets, ungets int
}

func (f *countingFactory) GetService(_ context.Context, h Handle) (any, error) {
	f.gets++
	return fmt.Sprintf("instance-%d", f.gets), nil
}

func (f *countingFactory) UngetService(h Handle, svc any) {
	f.ungets++
}

func TestServiceFactoryUseCounting(t *testing.T) {
	m := NewMemory()
	f := &countingFactory{}
	reg, err := m.Publish([]string{"log"}, f, nil)
	require.NoError(t, err)
	h := reg.Handle()

	a, err := m.Get(context.Background(), h)
	require.NoError(t, err)
	b, err := m.Get(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "instance-1", a)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, m.Uses(h))

	m.Release(h)
	assert.Equal(t, 0, f.ungets)
	m.Release(h)
	assert.Equal(t, 1, f.ungets)
	m.Release(h)
	assert.Equal(t, 1, f.ungets)

	c, err := m.Get(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "instance-2", c)
}

func TestAccessPolicy(t *testing.T) {
	m := NewMemory(WithAccessPolicy(func(service string) error {
		if service == "secret" {
			return fmt.Errorf("no access to %s", service)
		}
		return nil
	}))

	reg, err := m.Publish([]string{"secret"}, "svc", nil)
	require.NoError(t, err)

	_, err = m.Lookup("secret", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))

	_, err = m.Get(context.Background(), reg.Handle())
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))

	handles, err := m.Lookup("public", nil)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestForeignHandle(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	reg, err := a.Publish([]string{"log"}, "svc", nil)
	require.NoError(t, err)

	_, err = b.Get(context.Background(), reg.Handle())
	assert.True(t, errors.IsInvalid(err))
	b.Release(reg.Handle())
	assert.Equal(t, 0, b.Uses(reg.Handle()))
}

func TestListenerPanicIsContained(t *testing.T) {
	m := NewMemory()
	rec := &recorder{}

	_, err := m.Subscribe("log", nil, func(Event) { panic("boom") })
	require.NoError(t, err)
	_, err = m.Subscribe("log", nil, rec.listen)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err = m.Publish([]string{"log"}, "svc", nil)
	})
	require.NoError(t, err)
	assert.Len(t, rec.get(), 1)
}

func TestRegisteredServicesMetric(t *testing.T) {
	metrics := metric.NewMetrics()
	m := NewMemory(WithMetrics(metrics))

	reg, err := m.Publish([]string{"log"}, "svc", nil)
	require.NoError(t, err)
	_, err = m.Publish([]string{"log"}, "svc2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RegisteredServices))

	require.NoError(t, reg.Unregister())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RegisteredServices))
	assert.Equal(t, 1, m.Len())
}

// gatedFactory blocks in GetService until release is closed.
type gatedFactory struct {
	entered chan struct{}
	release chan struct{}
	gets    int
}

func (f *gatedFactory) GetService(_ context.Context, h Handle) (any, error) {
	f.gets++
	close(f.entered)
	<-f.release
	return "created", nil
}

func (f *gatedFactory) UngetService(Handle, any) {}

func TestGetWaitsForFactoryOnOtherCallPath(t *testing.T) {
	m := NewMemory()
	f := &gatedFactory{entered: make(chan struct{}), release: make(chan struct{})}
	reg, err := m.Publish([]string{"log"}, f, nil)
	require.NoError(t, err)
	h := reg.Handle()

	first := make(chan any)
	go func() {
		svc, _ := m.Get(context.Background(), h)
		first <- svc
	}()
	<-f.entered

	// A getter on another path gives up with its context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Get(ctx, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	second := make(chan any)
	go func() {
		svc, _ := m.Get(context.Background(), h)
		second <- svc
	}()

	close(f.release)
	assert.Equal(t, "created", <-first)
	assert.Equal(t, "created", <-second)
	assert.Equal(t, 1, f.gets)
	assert.Equal(t, 2, m.Uses(h))
}

// cyclicFactory gets its own entry again while creating, as a component
// whose dependency refers back to it would.
type cyclicFactory struct {
	reg   *Memory
	self  Handle
	inner error
}

func (f *cyclicFactory) GetService(ctx context.Context, h Handle) (any, error) {
	_, f.inner = f.reg.Get(ctx, f.self)
	return "outer", nil
}

func (f *cyclicFactory) UngetService(Handle, any) {}

func TestReentrantGetFailsInsteadOfBlocking(t *testing.T) {
	m := NewMemory()
	f := &cyclicFactory{reg: m}
	reg, err := m.Publish([]string{"log"}, f, nil)
	require.NoError(t, err)
	f.self = reg.Handle()

	done := make(chan any)
	go func() {
		svc, _ := m.Get(context.Background(), f.self)
		done <- svc
	}()

	select {
	case svc := <-done:
		assert.Equal(t, "outer", svc)
	case <-time.After(3 * time.Second):
		t.Fatal("re-entrant Get blocked")
	}
	require.Error(t, f.inner)
	assert.True(t, errors.Is(f.inner, errors.ErrServiceGone))
	assert.Equal(t, 1, m.Uses(f.self))
}

type panickingFactory struct{}

func (panickingFactory) GetService(context.Context, Handle) (any, error) { panic("boom") }
func (panickingFactory) UngetService(Handle, any) {}

func TestFactoryPanicIsAnError(t *testing.T) {
	m := NewMemory()
	reg, err := m.Publish([]string{"log"}, panickingFactory{}, nil)
	require.NoError(t, err)

	_, err = m.Get(context.Background(), reg.Handle())
	require.Error(t, err)
	assert.Equal(t, 0, m.Uses(reg.Handle()))
}
