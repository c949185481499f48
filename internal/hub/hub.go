// Package hub assembles the dispatch engine from its adapters and runs the
// long-lived servers.
package hub

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vendhub-io/vendhub/internal/hub/audit"
	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/service"
	"github.com/vendhub-io/vendhub/internal/hub/notifier"
	"github.com/vendhub-io/vendhub/internal/hub/queue"
	httpserver "github.com/vendhub-io/vendhub/internal/hub/server/http"
	mqttserver "github.com/vendhub-io/vendhub/internal/hub/server/mqtt"
	"github.com/vendhub-io/vendhub/internal/hub/storage"
	"github.com/vendhub-io/vendhub/internal/hub/store/memory"
	redisstore "github.com/vendhub-io/vendhub/internal/hub/store/redis"
	"github.com/vendhub-io/vendhub/internal/pkg/metrics"
	"github.com/vendhub-io/vendhub/pkg/log"
	"github.com/vendhub-io/vendhub/pkg/mqtt"
	"github.com/vendhub-io/vendhub/pkg/mqtt/topic"
)

// Hub owns the assembled engine and its servers.
type Hub struct {
	cfg    *Config
	logger log.Logger

	svc        *service.Service
	httpServer *httpserver.Server
	mqttClient mqtt.Client
	ingress    *mqttserver.Ingress
}

// New builds the hub. Store, broker and object store are selected from the
// configuration: an empty Redis address picks the in-memory store, an empty
// broker URL disables the pub/sub channel, an empty S3 endpoint disables
// artifact resolution.
func New(cfg *Config, logger log.Logger) (*Hub, error) {
	m := metrics.New()
	topics := topic.NewBuilder(cfg.Mqtt.TopicRoot)

	var repo core.Repository
	if cfg.Redis.Configured() {
		repo = redisstore.New(cfg.Redis.NewClient(), cfg.Redis.KeyPrefix)
		logger.Info("using redis command store", "addr", cfg.Redis.Addr)
	} else {
		repo = memory.New()
		logger.Info("using in-memory command store")
	}

	var resolver core.ArtifactResolver
	if cfg.S3.Configured() {
		r, err := storage.NewMinioResolver(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		resolver = r
		logger.Info("artifact resolution enabled", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.BucketName)
	}

	h := &Hub{cfg: cfg, logger: logger}

	var push core.CommandNotifier
	if cfg.Mqtt.Configured() {
		client, err := mqtt.NewClient(cfg.Mqtt.ToClientConfig())
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		h.mqttClient = client
		push = notifier.NewMQTTNotifier(client, topics, logger)
	} else {
		logger.Info("no broker configured, running poll-only")
	}

	h.svc = service.New(service.Config{
		Repository: repo,
		Queue:      queue.New(),
		Notifier:   push,
		Resolver:   resolver,
		Events:     audit.NewLogSink(logger),
		Metrics:    m,
		Logger:     logger,
		Options:    cfg.Dispatch,
	})

	h.httpServer = httpserver.NewServer(h.svc, m, logger, cfg.Http, nil)
	if h.mqttClient != nil {
		h.ingress = mqttserver.NewIngress(h.svc, h.mqttClient, topics, logger)
	}
	return h, nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (h *Hub) Run(ctx context.Context) error {
	if h.mqttClient != nil {
		if err := h.mqttClient.Start(ctx); err != nil {
			return fmt.Errorf("mqtt start: %w", err)
		}
		defer h.mqttClient.Disconnect(context.Background())
	}

	if err := h.svc.RebuildQueue(ctx); err != nil {
		return fmt.Errorf("rebuild queue: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.httpServer.Run(gctx) })
	g.Go(func() error { return h.svc.RunSweeper(gctx) })
	if h.ingress != nil {
		g.Go(func() error { return h.ingress.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && !isContextEnd(err) {
		return err
	}
	return nil
}

func isContextEnd(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
