package allureboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingHook struct {
	initErr error
	sync    atomic.Int32
	async   atomic.Int32
	delay   time.Duration
}

func (h *countingHook) Name() string { return "counting" }
func (h *countingHook) Init() error  { return h.initErr }

func (h *countingHook) RefreshFinished(*model.Snapshot) {
	h.sync.Add(1)
}

func (h *countingHook) RefreshFinishedAsync(ctx context.Context, _ *model.Snapshot) {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
	}
	h.async.Add(1)
}

type silentHook struct{}

func (silentHook) Name() string { return "silent" }
func (silentHook) Init() error  { return nil }

type panickingHook struct{}

func (panickingHook) Name() string { return "panicking" }
func (panickingHook) Init() error  { return nil }
func (panickingHook) RefreshFinishedAsync(context.Context, *model.Snapshot) {
	panic("boom")
}

func TestHookManagerNotifiesListeners(t *testing.T) {
	h := &countingHook{delay: 20 * time.Millisecond}

	m := newHookManager([]Hook{h, panickingHook{}}, discard)
	require.NoError(t, m.init())

	m.notifyRefreshFinished(model.EmptySnapshot(model.SourceModeFile))

	assert.Equal(t, int32(1), h.sync.Load())

	select {
	case <-m.shutdown().Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async hooks")
	}

	assert.Equal(t, int32(1), h.async.Load())
}

func TestHookManagerRejectsHooksWithoutListener(t *testing.T) {
	m := newHookManager([]Hook{silentHook{}}, discard)

	assert.ErrorContains(t, m.init(), `hook "silent" does not implement any listener`)
}

func TestHookManagerInitError(t *testing.T) {
	m := newHookManager([]Hook{&countingHook{initErr: errors.New("no token")}}, discard)

	assert.ErrorContains(t, m.init(), `initiating hook "counting": no token`)
}

func TestHookManagerAbortCancelsAsyncHooks(t *testing.T) {
	h := &countingHook{delay: time.Hour}

	m := newHookManager([]Hook{h}, discard)
	require.NoError(t, m.init())

	m.notifyRefreshFinished(model.EmptySnapshot(model.SourceModeFile))
	m.abort()

	select {
	case <-m.shutdown().Done():
	case <-time.After(time.Second):
		t.Fatal("aborted hook did not return")
	}
}
