package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"VizBridge/internal/api"
	"VizBridge/internal/auth"
	"VizBridge/internal/config"
	"VizBridge/internal/host/memhost"
	"VizBridge/internal/observability/alerting"
	"VizBridge/internal/observability/metrics"
	"VizBridge/internal/queue"
	"VizBridge/internal/session"
	"VizBridge/internal/storage/mysql"
	"VizBridge/internal/storage/redis"
	"VizBridge/internal/transport"
	"VizBridge/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon and its HTTP API.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := initLogging(cfg); err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg)
	},
}

// closers 按注册的逆序关闭资源。
type closers []io.Closer

func (c *closers) add(cl io.Closer) { *c = append(*c, cl) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.L().Warn("关闭资源失败", slog.Any("error", err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res closers
	defer res.closeAll()

	var redisClient *goredis.Client
	if needsRedis(cfg) {
		client, err := redis.Connect(ctx, redis.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		res.add(client)
		redisClient = client
	}

	rt, err := buildRuntime(ctx, cfg, redisClient, &res)
	if err != nil {
		return err
	}

	var publishers transport.Fanout
	var hub *transport.Hub
	if !cfg.Transport.DisableWebSocket {
		hub = transport.NewHub()
		go hub.Run(ctx)
		publishers = append(publishers, hub)
	}
	if cfg.Transport.RedisChannel != "" {
		pub, err := transport.NewRedisPublisher(redisClient, cfg.Transport.RedisChannel)
		if err != nil {
			return err
		}
		publishers = append(publishers, pub)
	}

	dispatcher := buildAlerting(cfg)
	sessOpts := []session.Option{
		session.WithBaseURL(cfg.Server.BaseURL),
		session.WithCallbackTimeout(cfg.CallbackTimeout()),
		session.WithEventBuffer(cfg.Host.EventBuffer),
		session.WithAlertDispatcher(dispatcher),
	}
	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.New()
		sessOpts = append(sessOpts, session.WithRPCObserver(reg), session.WithSchemaObserver(reg.ObserveSchema))
	}
	sess := session.New(rt, publishers, sessOpts...)

	q, err := buildQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	res.add(q)

	processor := queue.NewProcessor(sess.Bridge(), q,
		queue.WithWorkerCount(cfg.Queue.Workers),
		queue.WithAlertDispatcher(dispatcher))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("请求处理器异常退出", slog.Any("error", err))
		}
	}()

	go func() {
		if err := sess.Run(ctx); err != nil {
			logger.L().Error("会话初始化失败，RPC 请求将返回错误", slog.Any("error", err))
		}
	}()

	apiOpts := []api.Option{
		api.WithMetrics(reg),
		api.WithTokenGuard(auth.NewTokenGuard(cfg.Server.APIToken)),
	}
	if hub != nil {
		apiOpts = append(apiOpts, api.WithStream(hub))
	}
	server := api.NewServer(cfg.Server.Address, sess, q, apiOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Host.Settings.Driver == config.DriverRedis ||
		cfg.Queue.Driver == config.DriverRedis ||
		cfg.Transport.RedisChannel != ""
}

func loadFixture(cfg *config.Config) (*memhost.Fixture, error) {
	if cfg.Host.Fixture == "" {
		return memhost.SampleFixture(), nil
	}
	return memhost.LoadFixture(cfg.Host.Fixture)
}

func buildRuntime(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, res *closers) (*memhost.Runtime, error) {
	fx, err := loadFixture(cfg)
	if err != nil {
		return nil, err
	}
	opts := []memhost.Option{
		memhost.WithInitDelay(cfg.InitDelay()),
		memhost.WithMaxSettingsBytes(cfg.Host.MaxSettingsBytes),
	}
	switch cfg.Host.Settings.Driver {
	case config.DriverRedis:
		store, err := redis.NewSettingsStore(redisClient, cfg.Host.Settings.RedisKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, memhost.WithPersister(store))
	case config.DriverMySQL:
		store, err := mysql.Open(ctx, mysql.Config{DSN: cfg.Host.Settings.DSN, Namespace: cfg.Host.Settings.Namespace})
		if err != nil {
			return nil, err
		}
		res.add(store)
		opts = append(opts, memhost.WithPersister(store))
	}
	return memhost.New(fx, opts...), nil
}

func buildQueue(cfg *config.Config, redisClient *goredis.Client) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.DriverRedis:
		return queue.NewRedisQueue(redisClient, queue.RedisQueueConfig{
			Queue:     cfg.Queue.RedisQueue,
			BlockWait: cfg.BlockWait(),
		})
	case config.DriverRabbitMQ:
		return queue.NewRabbitMQQueue(queue.RabbitMQConfig{
			URL:      cfg.Queue.RabbitURL,
			Queue:    cfg.Queue.RabbitQueue,
			Prefetch: cfg.Queue.RabbitPrefetch,
			Durable:  cfg.Queue.RabbitDurable,
		})
	default:
		return queue.NewMemoryQueue(cfg.Queue.Buffer), nil
	}
}

func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}
