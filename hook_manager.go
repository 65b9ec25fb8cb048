package allureboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphi011/allureboard/internal/model"
)

// RefreshFinishedListener is called synchronously after every successful
// cache refresh, before the next refresh can publish.
type RefreshFinishedListener interface {
	Hook
	RefreshFinished(snapshot *model.Snapshot)
}

// AsyncRefreshFinishedListener is called in its own goroutine after every
// successful cache refresh.
type AsyncRefreshFinishedListener interface {
	Hook
	RefreshFinishedAsync(ctx context.Context, snapshot *model.Snapshot)
}

type Hook interface {
	Name() string
	Init() error
}

type hookManager struct {
	all                  []Hook
	refreshFinished      []RefreshFinishedListener
	refreshFinishedAsync []AsyncRefreshFinishedListener

	asyncHooksRunning sync.WaitGroup
	asyncCtx          context.Context
	cancelAsyncHooks  context.CancelFunc

	log *slog.Logger
}

func newHookManager(hooks []Hook, log *slog.Logger) *hookManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &hookManager{
		all:                  hooks,
		refreshFinished:      []RefreshFinishedListener{},
		refreshFinishedAsync: []AsyncRefreshFinishedListener{},
		asyncCtx:             ctx,
		cancelAsyncHooks:     cancel,
		log:                  log,
	}
}

func (s *hookManager) init() error {
	for _, p := range s.all {
		if err := p.Init(); err != nil {
			return fmt.Errorf("initiating hook %q: %w", p.Name(), err)
		}

		registeredHook := false

		if l, ok := p.(RefreshFinishedListener); ok {
			s.refreshFinished = append(s.refreshFinished, l)
			registeredHook = true
		}
		if l, ok := p.(AsyncRefreshFinishedListener); ok {
			s.refreshFinishedAsync = append(s.refreshFinishedAsync, l)
			registeredHook = true
		}

		if !registeredHook {
			return fmt.Errorf("hook %q does not implement any listener", p.Name())
		}

		s.log.Info("Registered hook", "hook", p.Name())
	}

	return nil
}

// shutdown returns a context that is cancelled once all running async hooks
// returned. Async hooks started afterwards see a cancelled context.
func (s *hookManager) shutdown() context.Context {
	cancelCtx, cancel := context.WithCancel(context.Background())

	go func() {
		s.asyncHooksRunning.Wait()
		cancel()
	}()

	return cancelCtx
}

// abort cancels the context passed to running async hooks.
func (s *hookManager) abort() {
	s.cancelAsyncHooks()
}

func (s *hookManager) notifyRefreshFinished(snapshot *model.Snapshot) {
	for _, p := range s.refreshFinished {
		p.RefreshFinished(snapshot)
	}

	for _, p := range s.refreshFinishedAsync {
		s.asyncHooksRunning.Add(1)

		hook := p
		go func() {
			defer s.asyncHooksRunning.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Hook panicked", "hook", hook.Name(), "panic", r)
				}
			}()

			hook.RefreshFinishedAsync(s.asyncCtx, snapshot)
		}()
	}
}
