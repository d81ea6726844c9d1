package configadmin

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/errors"
)

type fakeEntry struct {
	key   string
	value []byte
	op    jetstream.KeyValueOp
}

func (e fakeEntry) Bucket() string                  { return "scr_config" }
func (e fakeEntry) Key() string                     { return e.key }
func (e fakeEntry) Value() []byte                   { return e.value }
func (e fakeEntry) Revision() uint64                { return 1 }
func (e fakeEntry) Created() time.Time              { return time.Time{} }
func (e fakeEntry) Delta() uint64                   { return 0 }
func (e fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

type change struct {
	name  string
	props map[string]any
}

type recordingTarget struct {
	mu      sync.Mutex
	changes []change
	err     error
}

func (r *recordingTarget) Reconfigure(name string, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.changes = append(r.changes, change{name, props})
	return nil
}

func newTestWatcher(target Target) *Watcher {
	return &Watcher{target: target, logger: slog.Default()}
}

func TestHandleEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry fakeEntry
		want  []change
	}{
		{
			name:  "put",
			entry: fakeEntry{key: "components.greeter", value: []byte(`{"greeting":"hi","log.target":"(name=a)"}`), op: jetstream.KeyValuePut},
			want:  []change{{"greeter", map[string]any{"greeting": "hi", "log.target": "(name=a)"}}},
		},
		{
			name:  "dotted name",
			entry: fakeEntry{key: "components.org.example.greeter", value: []byte(`{}`), op: jetstream.KeyValuePut},
			want:  []change{{"org.example.greeter", map[string]any{}}},
		},
		{
			name:  "null value is empty configuration",
			entry: fakeEntry{key: "components.greeter", value: []byte(`null`), op: jetstream.KeyValuePut},
			want:  []change{{"greeter", map[string]any{}}},
		},
		{
			name:  "delete",
			entry: fakeEntry{key: "components.greeter", op: jetstream.KeyValueDelete},
			want:  []change{{"greeter", nil}},
		},
		{
			name:  "purge",
			entry: fakeEntry{key: "components.greeter", op: jetstream.KeyValuePurge},
			want:  []change{{"greeter", nil}},
		},
		{
			name:  "malformed json",
			entry: fakeEntry{key: "components.greeter", value: []byte(`{`), op: jetstream.KeyValuePut},
		},
		{
			name:  "foreign key",
			entry: fakeEntry{key: "version", value: []byte(`"1.0"`), op: jetstream.KeyValuePut},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingTarget{}
			newTestWatcher(target).handleEntry(tt.entry)
			assert.Equal(t, tt.want, target.changes)
		})
	}
}

func TestHandleEntry_TargetError(t *testing.T) {
	target := &recordingTarget{err: errors.ErrComponentNotFound}
	assert.NotPanics(t, func() {
		newTestWatcher(target).handleEntry(fakeEntry{key: "components.missing", value: []byte(`{}`), op: jetstream.KeyValuePut})
	})
	assert.Empty(t, target.changes)
}

func TestHandleEntry_AfterStop(t *testing.T) {
	target := &recordingTarget{}
	w := newTestWatcher(target)
	w.stopped.Store(true)

	w.handleEntry(fakeEntry{key: "components.greeter", value: []byte(`{}`), op: jetstream.KeyValuePut})
	assert.Empty(t, target.changes)
}

func TestKey(t *testing.T) {
	key, err := Key("greeter")
	require.NoError(t, err)
	assert.Equal(t, "components.greeter", key)

	key, err = Key("org.example.greeter")
	require.NoError(t, err)
	assert.Equal(t, "components.org.example.greeter", key)

	for _, bad := range []string{"", "a*", "a>", "a b", ".a", "a.", "a..b"} {
		_, err := Key(bad)
		assert.Error(t, err, bad)
		assert.True(t, errors.IsInvalid(err), bad)
	}
}

func TestNewWatcher_RequiresArguments(t *testing.T) {
	_, err := NewWatcher(nil, &recordingTarget{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
