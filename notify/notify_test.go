package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/errors"
	"github.com/apache/karaf-sub011/health"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func TestNotifier_PublishesTransition(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "scr.events", nil)

	n.ObserveState("greeter", component.StateActivating, component.StateActive)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "scr.events.greeter.state", pub.msgs[0].subject)

	var ev StateEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &ev))
	assert.Equal(t, "greeter", ev.Component)
	assert.Equal(t, component.StateActivating.String(), ev.From)
	assert.Equal(t, component.StateActive.String(), ev.To)
	assert.Equal(t, health.LevelHealthy, ev.Health)
	assert.NotEmpty(t, ev.Timestamp)
}

func TestNotifier_Subject(t *testing.T) {
	n := New(nil, "", nil)
	assert.Equal(t, "scr.events.org.example.log.state", n.Subject("org.example.log"))
	assert.Equal(t, "scr.events.my_comp_.state", n.Subject("my comp*"))
}

func TestNotifier_PublishErrorIgnored(t *testing.T) {
	pub := &fakePublisher{err: errors.ErrNoConnection}
	n := New(pub, "x", nil)
	assert.NotPanics(t, func() {
		n.ObserveState("greeter", component.StateEnabled, component.StateUnsatisfied)
	})
}

func TestNotifier_NilPublisher(t *testing.T) {
	n := New(nil, "x", nil)
	assert.NotPanics(t, func() {
		n.ObserveState("greeter", component.StateEnabled, component.StateUnsatisfied)
	})
}

func TestChain(t *testing.T) {
	var calls []string
	first := func(name string, _, _ component.State) { calls = append(calls, "first:"+name) }
	second := func(name string, _, _ component.State) { calls = append(calls, "second:"+name) }

	Chain(first, nil, second)("greeter", component.StateDisabled, component.StateEnabled)
	assert.Equal(t, []string{"first:greeter", "second:greeter"}, calls)
}
