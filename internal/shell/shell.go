// Package shell is the Plugin Manager / Startup Gate: orders plugin
// registration, then enforces the barrier that background work (the Job
// Queue Worker, the Publish Scheduler) must not begin before every
// plugins:ready subscriber has finished. Grounded on cmd/worker/main.go's
// ordered bring-up (tracer → logger → pool → repos → worker → run),
// generalized into an explicit phase sequence with a broadcast barrier in
// place of the teacher's linear main-func ordering.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/registry"
)

// Plugin is what registers with the Shell. Register should only set up
// state and subscriptions — it must not start background work itself; that
// happens only after the plugins:ready barrier resolves.
type Plugin interface {
	ID() string
	Register(ctx context.Context, s *Shell) error
}

// BackgroundService is anything the Shell starts only after the
// plugins:ready barrier — the Job Queue Worker, the Publish Scheduler.
type BackgroundService interface {
	Start(ctx context.Context) error
}

// startFunc adapts a plain func(ctx) error to BackgroundService;
// AddBackgroundServiceFunc uses it to wrap a Start that returns no error
// (the Worker).
type startFunc func(ctx context.Context) error

func (f startFunc) Start(ctx context.Context) error { return f(ctx) }

// Shell is the assembly root: the bus and registry every plugin gets handed,
// plus the ordered bring-up sequence of §4.L.
type Shell struct {
	Bus      *bus.Bus
	Registry *registry.Registry
	Logger   *slog.Logger

	mu          sync.Mutex
	plugins     []Plugin
	initialized bool
	services    []BackgroundService
}

func New(b *bus.Bus, r *registry.Registry, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{Bus: b, Registry: r, Logger: logger}
}

// AddBackgroundService registers svc to be started once the plugins:ready
// barrier resolves. Call during plugin registration, before Run.
func (s *Shell) AddBackgroundService(svc BackgroundService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, svc)
}

// AddBackgroundServiceFunc is the functional-value form of
// AddBackgroundService, for services whose Start signature doesn't already
// match BackgroundService (e.g. jobqueue/worker.Worker.Start, which returns
// nothing).
func (s *Shell) AddBackgroundServiceFunc(start func(ctx context.Context)) {
	s.AddBackgroundService(startFunc(func(ctx context.Context) error {
		start(ctx)
		return nil
	}))
}

// RegisterAll calls Register on every plugin, in order, synchronously —
// §4.L step: "Plugins register synchronously with the shell". The first
// error aborts registration of the remaining plugins.
func (s *Shell) RegisterAll(ctx context.Context, plugins ...Plugin) error {
	s.mu.Lock()
	s.plugins = append(s.plugins, plugins...)
	s.mu.Unlock()

	for _, p := range plugins {
		if err := p.Register(ctx, s); err != nil {
			return fmt.Errorf("shell: plugin %q register: %w", p.ID(), err)
		}
		s.Logger.InfoContext(ctx, "shell.plugin_registered", "plugin_id", p.ID())
	}
	return nil
}

// IsInitialized reports whether Run has begun: Run marks the shell
// initialized just before it broadcasts plugins:ready.
func (s *Shell) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Run executes §4.L steps 3-5: after every plugin's Register has already
// returned (the caller calls RegisterAll first), mark the shell
// initialized, broadcast system:plugins:ready and await every subscriber,
// then — only then — start every registered background service. Run does
// not register any job handlers or datasources of the shell's own (steps
// 1-2); the shell has none.
func (s *Shell) Run(ctx context.Context) error {
	s.mu.Lock()
	s.initialized = true
	services := append([]BackgroundService(nil), s.services...)
	s.mu.Unlock()

	s.Logger.InfoContext(ctx, "shell.initialized")

	if s.Bus != nil {
		if _, err := s.Bus.Send(ctx, bus.TopicSystemPluginsReady, nil, "shell", bus.SendOptions{Broadcast: true}); err != nil {
			return fmt.Errorf("shell: plugins:ready broadcast: %w", err)
		}
	}
	s.Logger.InfoContext(ctx, "shell.plugins_ready")

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("shell: starting background service: %w", err)
		}
	}
	s.Logger.InfoContext(ctx, "shell.background_services_started")

	return nil
}
