// Package service implements the dispatch engine: command creation, channel
// selection, fallback polling, result reconciliation and the deadline sweep.
// The command store arbitrates every state race through compare-and-swap;
// the service never holds a cross-command lock.
package service

import (
	"context"
	"time"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
	"github.com/vendhub-io/vendhub/internal/hub/queue"
	"github.com/vendhub-io/vendhub/internal/pkg/metrics"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/options"
)

// Config carries the service dependencies.
type Config struct {
	Repository core.Repository
	Queue      *queue.Queue

	// Notifier is nil when no broker is configured; the engine then runs in
	// poll-only mode.
	Notifier core.CommandNotifier

	// Resolver is nil when no object store is configured; update_recipe
	// commands must then carry an explicit package URL.
	Resolver core.ArtifactResolver

	Events  core.EventSink
	Metrics *metrics.Metrics
	Logger  log.Logger
	Options *options.DispatchOptions
}

// Service is the dispatch coordinator.
type Service struct {
	commands core.CommandStore
	devices  core.DeviceRepository
	queue    *queue.Queue
	notifier core.CommandNotifier
	resolver core.ArtifactResolver
	events   core.EventSink
	metrics  *metrics.Metrics
	logger   log.Logger
	opts     *options.DispatchOptions

	// now is replaceable in tests.
	now func() time.Time
}

// New wires a Service from its dependencies.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	opts := cfg.Options
	if opts == nil {
		opts = options.NewDispatchOptions()
	}

	return &Service{
		commands: cfg.Repository.Commands(),
		devices:  cfg.Repository.Devices(),
		queue:    cfg.Queue,
		notifier: cfg.Notifier,
		resolver: cfg.Resolver,
		events:   cfg.Events,
		metrics:  m,
		logger:   logger.WithName("dispatch"),
		opts:     opts,
		now:      time.Now,
	}
}

// RebuildQueue repopulates the pending queue from non-terminal commands in
// the store. Called once at startup; queued-but-undelivered commands survive
// restarts because the store, not the queue, is the source of truth.
func (s *Service) RebuildQueue(ctx context.Context) error {
	active, err := s.commands.ListActive(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	for _, cmd := range active {
		s.queue.Enqueue(queue.Entry{
			CommandID:  cmd.ID,
			DeviceID:   cmd.DeviceID,
			FallbackAt: now,
			ExpireAt:   cmd.Deadline,
		})
	}
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
	s.logger.Info("pending queue rebuilt", "commands", len(active))
	return nil
}

// transition runs a compare-and-swap through the store and, on success,
// emits the audit event and updates the terminal-state counter.
func (s *Service) transition(ctx context.Context, cmd *model.Command, to model.CommandState, result []byte, resultAt *time.Time) (*model.Command, error) {
	updated, err := s.commands.Transition(ctx, cmd.ID, cmd.State, to, result, resultAt)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.CommandStateChanged(ctx, model.StateChangeEvent{
			CommandID: cmd.ID,
			DeviceID:  cmd.DeviceID,
			TenantID:  cmd.TenantID,
			From:      cmd.State,
			To:        to,
			At:        s.now(),
		})
	}
	if to.Terminal() {
		s.metrics.CommandsResolved.WithLabelValues(string(to)).Inc()
	}
	return updated, nil
}

// resolve finalizes a command: the queue entry is dropped and the depth
// gauge refreshed.
func (s *Service) resolve(commandID string) {
	s.queue.Remove(commandID)
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
}
