package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dental-bot/internal/config"
	"dental-bot/internal/database"
	"dental-bot/internal/dialogue"
	"dental-bot/internal/export"
	"dental-bot/internal/httpapi"
	"dental-bot/internal/notify"
	"dental-bot/internal/repository"
	"dental-bot/internal/session"
	"dental-bot/internal/telegram"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BotService 数据录入机器人服务（整合各层）
type BotService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *notify.MQTTClient

	visits     repository.VisitsRepository
	engine     *dialogue.Engine
	dispatcher *telegram.Dispatcher
	httpServer *Server
}

// NewBotService 创建服务: opens the record store, the session store and the
// notifiers, then wires the dialogue engine to the Bot API.
func NewBotService(cfg *config.Config, logger *zap.Logger) (*BotService, error) {
	api := telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.PollTimeout, logger)
	return newBotService(cfg, logger, api)
}

func newBotService(cfg *config.Config, logger *zap.Logger, api telegram.BotAPI) (*BotService, error) {
	s := &BotService{config: cfg, logger: logger}
	ctx := context.Background()

	// 1. 记录存储
	visits, err := s.openVisits(ctx)
	if err != nil {
		s.Stop()
		return nil, err
	}
	s.visits = visits

	// 2. 会话存储
	sessions, err := s.openSessions(ctx)
	if err != nil {
		s.Stop()
		return nil, err
	}

	// 3. 通知
	notifier, err := s.openNotifier(ctx)
	if err != nil {
		s.Stop()
		return nil, err
	}

	// 4. 对话引擎 + 分发
	writer := export.NewWriter(cfg.Export.Dir, cfg.Export.FileName, logger)
	s.engine = dialogue.NewEngine(sessions, visits, writer, notifier, cfg.Services, logger)
	s.dispatcher = telegram.NewDispatcher(api, s.engine, cfg.Telegram.Workers, logger)

	// 5. 管理接口（可选）
	if cfg.HTTP.Enabled {
		router := httpapi.NewRouter(logger)
		router.RegisterHealthRoutes()
		router.RegisterVisitRoutes(httpapi.NewVisitsHandler(visits, logger))
		s.httpServer = NewServer(cfg.HTTP.Addr, router, logger)
	}
	return s, nil
}

// Start runs the dispatcher (and the admin API when enabled) until ctx is
// cancelled or one of them fails.
func (s *BotService) Start(ctx context.Context) error {
	s.logger.Info("Starting dental bot",
		zap.String("store", s.config.Store.Driver),
		zap.String("session_backend", s.config.Session.Backend),
		zap.Bool("http", s.httpServer != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})

	if s.httpServer != nil {
		g.Go(func() error {
			if err := s.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.httpServer.Stop(shutdownCtx)
		})
	}
	return g.Wait()
}

// Stop 停止服务 and releases every connection that was opened.
func (s *BotService) Stop() error {
	s.logger.Info("Stopping dental bot")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	return nil
}

func (s *BotService) openVisits(ctx context.Context) (repository.VisitsRepository, error) {
	cfg := s.config.Store
	var (
		db      *sql.DB
		dialect database.Dialect
		err     error
	)
	switch cfg.Driver {
	case "memory":
		s.logger.Warn("Using in-memory record store, visits are lost on restart")
		return repository.NewMemoryVisitsRepository(), nil
	case "sqlite", "":
		dialect = database.DialectSQLite
		db, err = database.NewSQLiteDB(cfg.SQLitePath)
	case "postgres":
		dialect = database.DialectPostgres
		db, err = database.NewPostgresDB(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := database.Migrate(ctx, db, dialect); err != nil {
		return nil, err
	}
	return repository.NewSQLVisitsRepository(db, dialect, s.logger), nil
}

func (s *BotService) openSessions(ctx context.Context) (session.Store, error) {
	cfg := s.config.Session
	switch cfg.Backend {
	case "memory", "":
		return session.NewMemoryStore(cfg.TTL), nil
	case "redis":
		client, err := s.redis(ctx)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL, s.logger), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}

func (s *BotService) openNotifier(ctx context.Context) (notify.Notifier, error) {
	cfg := s.config.Notify
	var notifiers notify.Multi

	if cfg.MQTT.Enabled {
		client, err := notify.NewMQTTClient(&cfg.MQTT, s.logger)
		if err != nil {
			return nil, err
		}
		s.mqttClient = client
		notifiers = append(notifiers, notify.NewMQTTNotifier(client, cfg.MQTT.Topic, cfg.MQTT.QoS))
	}
	if cfg.Stream != "" {
		client, err := s.redis(ctx)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewStreamNotifier(client, cfg.Stream))
	}

	if len(notifiers) == 0 {
		return notify.Nop{}, nil
	}
	return notifiers, nil
}

// redis returns the shared client, connecting on first use.
func (s *BotService) redis(ctx context.Context) (*redis.Client, error) {
	if s.redisClient != nil {
		return s.redisClient, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.config.Redis.Addr,
		Password: s.config.Redis.Password,
		DB:       s.config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	s.redisClient = client
	return client, nil
}
