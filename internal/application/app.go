package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/knowledge"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
	"github.com/ngoclaw/wagent/internal/domain/valueobject"
	"github.com/ngoclaw/wagent/internal/infrastructure/alert"
	"github.com/ngoclaw/wagent/internal/infrastructure/broker"
	"github.com/ngoclaw/wagent/internal/infrastructure/cache"
	"github.com/ngoclaw/wagent/internal/infrastructure/config"
	"github.com/ngoclaw/wagent/internal/infrastructure/corpus"
	"github.com/ngoclaw/wagent/internal/infrastructure/embedding"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
	"github.com/ngoclaw/wagent/internal/infrastructure/llm"
	_ "github.com/ngoclaw/wagent/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/ngoclaw/wagent/internal/infrastructure/llm/openai"    // register openai provider factory
	applog "github.com/ngoclaw/wagent/internal/infrastructure/logger"
	"github.com/ngoclaw/wagent/internal/infrastructure/markdown"
	"github.com/ngoclaw/wagent/internal/infrastructure/media"
	"github.com/ngoclaw/wagent/internal/infrastructure/monitoring"
	"github.com/ngoclaw/wagent/internal/infrastructure/persistence"
	"github.com/ngoclaw/wagent/internal/infrastructure/scheduler"
	"github.com/ngoclaw/wagent/internal/infrastructure/transport"
	"github.com/ngoclaw/wagent/internal/infrastructure/vectorstore"
	"github.com/ngoclaw/wagent/internal/infrastructure/workerpool"
	httpServer "github.com/ngoclaw/wagent/internal/interfaces/http"
	"github.com/ngoclaw/wagent/internal/interfaces/http/handlers"
	"github.com/ngoclaw/wagent/internal/interfaces/websocket"
	"github.com/ngoclaw/wagent/pkg/safego"
)

const (
	eventBufferSize   = 1024
	sweepBatch        = 100
	collectorInterval = 10 * time.Second
	indexBatchSize    = 32
)

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	connectorRepo repository.ConnectorRepository
	sessionRepo   repository.SessionRepository
	messageRepo   repository.MessageRepository
	jobRepo       repository.JobRepository
	contactRepo   repository.ContactRepository

	// 领域服务
	bus        *eventbus.InMemoryBus
	connectors *service.ConnectorRegistry
	sessions   *service.SessionManager
	policy     service.HandoffPolicy
	keywords   *service.KeywordHandoffPolicy
	processors *service.MediaProcessorRegistry

	// 基础设施
	monitor   *monitoring.Monitor
	llmRouter *llm.Router
	llmClient service.LLMClient
	dedupe    cache.DedupeCache
	publisher *broker.RabbitPublisher
	embedder  knowledge.EmbeddingProvider
	vectors   knowledge.VectorStore
	engine    *knowledge.Engine
	indexer   *knowledge.Indexer
	answers   *workerpool.Pool
	scheduler *scheduler.Scheduler
	sender    service.MessageSender

	// 应用服务
	queue      *usecase.JobQueue
	dispatcher *usecase.ResponseDispatcher
	ingest     *usecase.IngestMessageUseCase

	// 接口层
	hub        *websocket.Hub
	httpServer *httpServer.Server

	unsubscribe []func()
	cancel      context.CancelFunc
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: 首次运行时创建 ~/.wagent/ 与默认文件
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	// 初始化各层组件
	if err := app.initRepositories(cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	// 初始化连接实例
	if err := app.seedData(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	return app, nil
}

// NewAppCLI creates a lightweight app for CLI mode.
// Skips: HTTP server, websocket hub, scheduler, seed data.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	// DB with silent logging (no SQL spam)
	dbCfg := cfg.Database
	dbCfg.LogLevel = "silent"
	if err := app.initRepositories(dbCfg); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	return app, nil
}

// initRepositories 初始化仓储层; database.type=memory 时不落盘
func (app *App) initRepositories(dbCfg config.DatabaseConfig) error {
	app.logger.Info("Initializing repositories", zap.String("type", dbCfg.Type))

	if dbCfg.Type == "memory" {
		app.connectorRepo = persistence.NewMemoryConnectorRepository()
		app.sessionRepo = persistence.NewMemorySessionRepository()
		app.messageRepo = persistence.NewMemoryMessageRepository()
		app.jobRepo = persistence.NewMemoryJobRepository()
		app.contactRepo = persistence.NewMemoryContactRepository()
		return nil
	}

	// 连接数据库
	db, err := persistence.NewDBConnection(&dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	// 初始化 GORM 仓储
	app.connectorRepo = persistence.NewGormConnectorRepository(db)
	app.sessionRepo = persistence.NewGormSessionRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.jobRepo = persistence.NewGormJobRepository(db)
	app.contactRepo = persistence.NewGormContactRepository(db)
	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	app.bus = eventbus.NewInMemoryBus(app.logger, eventBufferSize)
	app.connectors = service.NewConnectorRegistry(app.connectorRepo, app.bus, app.logger)
	app.sessions = service.NewSessionManager(app.sessionRepo, app.bus, app.logger)

	// 转人工策略
	app.keywords = service.NewKeywordHandoffPolicy(app.config.Sessions.HandoffKeywords)
	switch app.config.Sessions.HandoffPolicy {
	case "keyword":
		app.policy = app.keywords
	case "both":
		app.policy = service.ChainHandoffPolicy{service.CommandHandoffPolicy{}, app.keywords}
	default:
		app.policy = service.CommandHandoffPolicy{}
	}

	app.processors = service.NewMediaProcessorRegistry()
	return nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")
	cfg := app.config
	ctx := context.Background()

	// 监控
	app.monitor = monitoring.NewMonitor(app.logger)
	app.unsubscribe = append(app.unsubscribe, app.monitor.Observe(app.bus))

	// LLM Router: 按配置顺序故障转移
	app.llmRouter = llm.NewRouter(cfg.LLM.Breaker.FailureThreshold, cfg.LLM.Breaker.Cooldown, app.logger)
	for _, p := range cfg.LLM.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:    p.Name,
			Type:    p.Type,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("llm provider %s: %w", p.Name, err)
		}
		app.llmRouter.AddProvider(provider)
	}
	if len(cfg.LLM.Providers) == 0 {
		app.logger.Warn("No LLM providers configured, answers will fail until llm.providers is set")
	}
	app.llmClient = monitoring.NewMeteredLLM(app.llmRouter, app.monitor)

	// 去重缓存
	dedupe, err := cache.New(ctx, cfg.Redis, cfg.Pipeline.DedupeTTL, app.logger)
	if err != nil {
		return fmt.Errorf("dedupe cache: %w", err)
	}
	app.dedupe = dedupe

	// 领域事件外发
	if cfg.RabbitMQ.Enabled {
		pub, err := broker.NewRabbitPublisher(cfg.RabbitMQ, app.logger)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		app.publisher = pub
		app.unsubscribe = append(app.unsubscribe, broker.NewForwarder(pub, app.logger).Attach(app.bus))
	}

	// 运维告警
	var notifier service.OperatorNotifier = alert.LogNotifier{Logger: app.logger}
	if cfg.Telegram.Enabled {
		tg, err := alert.NewTelegramNotifier(cfg.Telegram, app.logger)
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		notifier = tg
	}
	app.unsubscribe = append(app.unsubscribe, alert.NewAlertRouter(notifier, app.logger).Attach(app.bus))

	// 知识库
	embedder, err := embedding.New(cfg.Embedding, app.logger)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	app.embedder = embedder
	vectors, err := vectorstore.New(ctx, cfg.VectorStore, embedder.Dimension(), app.logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	app.vectors = vectors
	chunker, err := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	if err != nil {
		return err
	}
	app.indexer = knowledge.NewIndexer(chunker, embedder, vectors, indexBatchSize, app.logger)
	gen := valueobject.NewGenerationConfig(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature, cfg.LLM.Timeout)
	app.engine = knowledge.NewEngine(
		knowledge.NewVectorRetriever(vectors, embedder),
		app.llmClient,
		gen,
		app.logger,
		knowledge.WithTopK(cfg.Knowledge.TopK),
	)

	// 媒体处理能力; 路由器同时承担转写
	media.RegisterDefaults(app.processors, app.llmClient, app.llmRouter, media.NewFetcher(cfg.LLM.Timeout, app.logger), media.Options{
		VisionModel:        cfg.LLM.VisionModel,
		TranscriptionModel: cfg.LLM.TranscriptionModel,
	}, app.logger)

	// 出站发送
	if cfg.Evolution.DryRun {
		app.logger.Warn("evolution.dry_run enabled, replies are only logged")
		app.sender = transport.LogSender{Logger: app.logger}
	} else {
		app.sender = transport.NewEvolutionSender(cfg.Evolution, app.logger)
	}

	app.answers = workerpool.New("answers", cfg.Pipeline.AnswerWorkers, cfg.Pipeline.QueueSize, app.logger)
	app.scheduler = scheduler.New(cfg.Jobs.Timeout, app.logger)
	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")
	cfg := app.config

	formatter := markdown.NewFormatter(false)
	app.dispatcher = usecase.NewResponseDispatcher(app.messageRepo, app.connectors, app.sessions, app.sender, formatter, app.bus, app.logger)
	if cfg.Jobs.AnswerTranscriptions {
		app.dispatcher.SetTranscriptionAnswerer(app.engine)
	}

	app.queue = usecase.NewJobQueue(app.jobRepo, app.messageRepo, app.bus, app.logger)
	app.queue.SetCompletionHandler(app.dispatcher)

	answers := usecase.NewAnswerWorker(app.engine, app.dispatcher, app.messageRepo, app.answers, app.logger)
	if cfg.Pipeline.ExtractFacts {
		answers.SetContactFacts(usecase.NewContactFacts(app.llmClient, app.sessions, cfg.LLM.Model, app.logger))
	}

	app.ingest = usecase.NewIngestMessageUseCase(usecase.IngestDeps{
		Connectors: app.connectors,
		Sessions:   app.sessions,
		Messages:   app.messageRepo,
		Contacts:   app.contactRepo,
		Policy:     app.policy,
		Admin:      usecase.NewAdminCommands(app.connectors, app.sessions, app.logger),
		Answers:    answers,
		Jobs:       app.queue,
		Dispatcher: app.dispatcher,
		Dedupe:     app.dedupe,
		Events:     app.bus,
		PreferOCR:  cfg.Jobs.PreferOCR,
	}, app.logger)

	return app.initSchedules()
}

// initSchedules 周期任务: 超时任务回收与空闲会话关闭
func (app *App) initSchedules() error {
	cfg := app.config
	if cfg.Jobs.StuckSweep != "" {
		err := app.scheduler.Add("jobs.stuck_sweep", cfg.Jobs.StuckSweep, func(ctx context.Context) error {
			_, err := app.queue.SweepStuck(ctx, cfg.Jobs.Timeout, sweepBatch)
			return err
		})
		if err != nil {
			return err
		}
	}
	if cfg.Sessions.InactivityTimeout > 0 && cfg.Sessions.Sweep != "" {
		err := app.scheduler.Add("sessions.idle_close", cfg.Sessions.Sweep, func(ctx context.Context) error {
			_, err := app.sessions.CloseIdle(ctx, cfg.Sessions.InactivityTimeout, sweepBatch)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")
	cfg := app.config

	app.hub = websocket.NewHub(app.logger)
	app.unsubscribe = append(app.unsubscribe, app.hub.Attach(app.bus))

	secret := ""
	if cfg.Auth.Enabled {
		secret = cfg.Auth.JWTSecret
	}

	app.httpServer = httpServer.NewServer(httpServer.Config{
		Addr:         cfg.Server.Addr(),
		Mode:         cfg.Server.Mode,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		JWTSecret:    secret,
	}, httpServer.Handlers{
		Webhook: handlers.NewWebhookHandler(app.ingest, handlers.WebhookFilter{
			IgnoreGroups:    cfg.Pipeline.IgnoreGroups,
			IgnoreBroadcast: cfg.Pipeline.IgnoreBroadcast,
		}, app.logger),
		Ask:        handlers.NewAskHandler(app.engine, app.logger),
		Jobs:       handlers.NewJobHandler(app.queue, app.logger),
		Sessions:   handlers.NewSessionHandler(app.sessions, app.messageRepo, app.logger),
		Connectors: handlers.NewConnectorHandler(app.connectors, app.logger),
		Messages:   handlers.NewMessageHandler(app.messageRepo, app.dispatcher, app.logger),
		Debug:      handlers.NewDebugHandler(app.monitor, app.llmRouter, []handlers.PoolStats{app.answers}, app.logger),
		Metrics:    app.monitor.PrometheusHandler(),
		Feed:       websocket.NewHandler(app.hub, app.logger).ServeWS,
		Health:     app.health,
	}, app.logger)

	return nil
}

// seedData 从 connectors.yaml 写入连接实例; 已存在的实例保留运行时状态
func (app *App) seedData(ctx context.Context) error {
	path := app.config.ConnectorsFile
	if path == "" {
		return nil
	}
	seeds, err := config.LoadConnectorSeeds(path)
	if err != nil {
		return err
	}

	for _, s := range seeds.Connectors {
		status := entity.ConnectorDisconnected
		if existing, err := app.connectorRepo.FindByID(ctx, s.ID); err == nil {
			status = existing.Status()
		}
		inst, err := entity.NewConnectorInstance(entity.ConnectorParams{
			ID:                 s.ID,
			TenantID:           s.TenantID,
			Name:               s.Name,
			ExternalInstanceID: s.ExternalInstanceID,
			APIURL:             s.APIURL,
			APIKey:             s.APIKey,
			PhoneNumber:        s.PhoneNumber,
			ProfileName:        s.ProfileName,
			AuthorizedNumbers:  s.AuthorizedNumbers,
			IgnoreOwnMessages:  s.IgnoreOwnMessages,
			Status:             status,
			IsActive:           s.IsActive(),
		})
		if err != nil {
			return fmt.Errorf("connector %s: %w", s.ID, err)
		}
		if err := app.connectors.Register(ctx, inst); err != nil {
			return err
		}
	}

	app.logger.Info("Connectors seeded", zap.String("file", path), zap.Int("count", len(seeds.Connectors)))
	return nil
}

// Watch 配置热更新: 日志级别与转人工关键词
func (app *App) Watch(w *config.Watcher, level zap.AtomicLevel) {
	w.OnReload(func(cfg *config.Config) {
		level.SetLevel(applog.ParseLevel(cfg.Log.Level))
		app.keywords.SetKeywords(cfg.Sessions.HandoffKeywords)
		app.logger.Info("Config reloaded",
			zap.String("log_level", cfg.Log.Level),
			zap.Strings("handoff_keywords", cfg.Sessions.HandoffKeywords),
		)
	})
}

// Start 启动应用
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")
	ctx, app.cancel = context.WithCancel(ctx)

	if app.config.Knowledge.IndexOnStart && len(app.config.Knowledge.Corpus) > 0 {
		if _, err := app.Index(ctx, app.config.Knowledge.Corpus, false); err != nil {
			// 问答仍可运行，检索为空时按失败处理
			app.logger.Error("Initial corpus indexing failed", zap.Error(err))
		}
	}

	// 本地媒体任务工作者
	if n := app.config.Jobs.LocalWorkers; n > 0 {
		source := usecase.NewLocalJobSource(app.queue)
		workerCfg := usecase.JobWorkerConfig{
			PollInterval: app.config.Jobs.PollInterval,
			Timeout:      app.config.Jobs.Timeout,
		}
		safego.Go(app.logger, "job-workers", func() {
			usecase.RunWorkers(ctx, n, source, app.processors, workerCfg, app.logger)
		})
	}

	app.monitor.StartCollector(ctx, collectorInterval, func() {
		app.monitor.SetQueueDepth(int64(app.answers.Depth()))
		app.monitor.SetEventsDropped(app.bus.Dropped())
	})

	if app.hub != nil {
		safego.Go(app.logger, "ws-hub", func() { app.hub.Run(ctx) })
	}
	app.scheduler.Start()

	// 启动HTTP服务器
	if app.httpServer != nil {
		if err := app.httpServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	// 先停入口，再排空工作池
	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			app.logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.answers != nil {
		if err := app.answers.Stop(ctx); err != nil {
			app.logger.Warn("Answer pool did not drain", zap.Error(err))
		}
	}
	if app.cancel != nil {
		app.cancel()
	}

	for _, unsub := range app.unsubscribe {
		unsub()
	}
	if app.bus != nil {
		app.bus.Close()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Warn("Failed to close rabbitmq publisher", zap.Error(err))
		}
	}
	if app.dedupe != nil {
		_ = app.dedupe.Close()
	}

	// 关闭数据库连接
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// health 依赖状态，挂在 /health
func (app *App) health(ctx context.Context) map[string]string {
	out := map[string]string{"database": "memory"}
	if app.db != nil {
		out["database"] = "ok"
		if sqlDB, err := app.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			out["database"] = "unreachable"
		}
	}
	if n, err := app.vectors.Count(ctx); err != nil {
		out["knowledge"] = "unavailable"
	} else {
		out["knowledge"] = fmt.Sprintf("%d chunks", n)
	}
	return out
}

// Ask 直接调用检索问答
func (app *App) Ask(ctx context.Context, question string) (string, error) {
	return app.engine.Ask(ctx, question)
}

// Index 加载语料并写入向量库; reset 时先清空
func (app *App) Index(ctx context.Context, paths []string, reset bool) (int, error) {
	docs, err := corpus.NewLoader(app.logger).Load(paths)
	if err != nil {
		return 0, err
	}
	if reset {
		if err := app.vectors.Reset(ctx); err != nil {
			return 0, fmt.Errorf("reset vector store: %w", err)
		}
	}
	n, err := app.indexer.Index(ctx, docs)
	if err != nil {
		return n, err
	}
	app.logger.Info("Corpus indexed", zap.Int("documents", len(docs)), zap.Int("chunks", n))
	return n, nil
}

// JobQueue 媒体任务队列
func (app *App) JobQueue() *usecase.JobQueue {
	return app.queue
}

// Processors 已注册的媒体处理能力
func (app *App) Processors() *service.MediaProcessorRegistry {
	return app.processors
}

// Connectors 连接实例注册表
func (app *App) Connectors() *service.ConnectorRegistry {
	return app.connectors
}

// Providers 模型服务商状态
func (app *App) Providers(ctx context.Context) []llm.ProviderStatus {
	return app.llmRouter.ListProviders(ctx)
}

// Logger 返回日志实例
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig 返回配置
func (app *App) AppConfig() *config.Config {
	return app.config
}
