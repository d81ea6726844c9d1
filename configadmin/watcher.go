// Package configadmin feeds component configuration from a JetStream
// key-value bucket into the runtime.
//
// Each component's configuration lives under the key "components.<name>"
// as a JSON object. A put reconfigures the component with the decoded
// properties. A delete or purge removes the configuration.
package configadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/apache/karaf-sub011/errors"
)

// KeyPrefix is the key namespace holding component configurations.
const KeyPrefix = "components."

// Target receives configuration changes. A nil props means the
// configuration was deleted.
type Target interface {
	Reconfigure(name string, props map[string]any) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSeed pushes cfg to an empty bucket on Start, so the file
// configuration becomes the initial bucket contents on first boot.
func WithSeed(cfg map[string]map[string]any) Option {
	return func(w *Watcher) { w.seed = cfg }
}

// Watcher watches a KV bucket and applies changes to a Target.
type Watcher struct {
	kv      jetstream.KeyValue
	target  Target
	logger  *slog.Logger
	seed    map[string]map[string]any

	watcher    jetstream.KeyWatcher
	shutdownCh chan struct{}
	ready      chan struct{}
	wg         sync.WaitGroup
	started    atomic.Bool
	stopped    atomic.Bool
}

// NewWatcher creates a Watcher. Start begins watching.
func NewWatcher(kv jetstream.KeyValue, target Target, opts ...Option) (*Watcher, error) {
	if kv == nil || target == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Watcher", "NewWatcher", "kv and target required")
	}
	w := &Watcher{
		kv:         kv,
		target:     target,
		logger:     slog.Default(),
		shutdownCh: make(chan struct{}),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "configadmin", "bucket", kv.Bucket())
	return w, nil
}

// Start seeds an empty bucket if configured, then watches for changes.
// Existing entries are applied first; Ready is closed once they have been.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}

	if len(w.seed) > 0 {
		empty, err := w.isEmpty(ctx)
		if err != nil {
			w.logger.Warn("Failed to check bucket contents", "error", err)
		} else if empty {
			w.logger.Info("Empty configuration bucket, pushing initial configuration")
			for name, props := range w.seed {
				if err := w.Put(ctx, name, props); err != nil {
					w.logger.Error("Failed to push initial configuration", "name", name, "error", err)
				}
			}
		}
	}

	watcher, err := w.kv.Watch(ctx, KeyPrefix+">")
	if err != nil {
		return errors.WrapTransient(err, "Watcher", "Start", "watch "+KeyPrefix+">")
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.process(ctx)
	return nil
}

// Ready is closed after the initial values have been applied.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Stop stops watching and waits up to timeout for the processing
// goroutine to exit.
func (w *Watcher) Stop(timeout time.Duration) error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(w.shutdownCh)
	if w.watcher != nil {
		_ = w.watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		w.logger.Warn("Watcher shutdown timeout", "timeout", timeout)
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Watcher", "Stop", "wait for watcher")
	}
}

func (w *Watcher) process(ctx context.Context) {
	defer w.wg.Done()
	readyOnce := sync.OnceFunc(func() { close(w.ready) })
	defer readyOnce()

	updates := w.watcher.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdownCh:
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			// A nil entry marks the end of the initial values.
			if entry == nil {
				readyOnce()
				continue
			}
			w.handleEntry(entry)
		}
	}
}

// handleEntry applies one bucket change to the target.
func (w *Watcher) handleEntry(entry jetstream.KeyValueEntry) {
	if w.stopped.Load() {
		return
	}

	name, ok := componentName(entry.Key())
	if !ok {
		w.logger.Debug("Ignoring key outside component namespace", "key", entry.Key())
		return
	}

	var (
		props map[string]any
		kind  string
	)
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		kind = "put"
		if err := json.Unmarshal(entry.Value(), &props); err != nil {
			w.logger.Warn("Ignoring malformed configuration", "name", name, "revision", entry.Revision(), "error", err)
			return
		}
		if props == nil {
			props = map[string]any{}
		}
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		kind = "delete"
	default:
		return
	}

	if err := w.target.Reconfigure(name, props); err != nil {
		w.logger.Warn("Failed to apply configuration", "name", name, "op", kind, "error", err)
		return
	}
	w.logger.Debug("Applied configuration", "name", name, "op", kind, "revision", entry.Revision())
}

// Put stores props as the configuration of component name.
func (w *Watcher) Put(ctx context.Context, name string, props map[string]any) error {
	key, err := Key(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(props)
	if err != nil {
		return errors.WrapInvalid(err, "Watcher", "Put", "marshal "+name)
	}
	if _, err := w.kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "Watcher", "Put", "store "+key)
	}
	return nil
}

// Delete removes the configuration of component name.
func (w *Watcher) Delete(ctx context.Context, name string) error {
	key, err := Key(name)
	if err != nil {
		return err
	}
	if err := w.kv.Delete(ctx, key); err != nil {
		return errors.WrapTransient(err, "Watcher", "Delete", "delete "+key)
	}
	return nil
}

func (w *Watcher) isEmpty(ctx context.Context) (bool, error) {
	keys, err := w.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return true, nil
		}
		return false, fmt.Errorf("list KV keys: %w", err)
	}
	return len(keys) == 0, nil
}

// Key returns the bucket key for a component name. Dotted names are
// allowed; wildcards, whitespace and empty tokens are not.
func Key(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "*> \t") ||
		strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return "", errors.WrapInvalid(fmt.Errorf("%w: component name %q", errors.ErrInvalidConfig, name),
			"configadmin", "Key", "build key")
	}
	return KeyPrefix + name, nil
}

func componentName(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
