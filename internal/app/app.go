package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/config"
	"github.com/studyassist/analysis-service/internal/delivery/httpd"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service"
	"github.com/studyassist/analysis-service/internal/service/analyzer"
	"github.com/studyassist/analysis-service/internal/service/integration"
	"github.com/studyassist/analysis-service/internal/worker"
	"github.com/studyassist/analysis-service/internal/worker/queue"
)

type App struct {
	server           *http.Server
	logger           zerolog.Logger
	config           *config.Config
	db               *sql.DB
	assignmentWorker worker.AssignmentWorker
	rabbitMQRepo     repository.RabbitMQRepository
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupQueue(
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.RoutingKey,
	); err != nil {
		return nil, err
	}

	rabbitMQPublisher := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
	rabbitMQConsumer := queue.NewRabbitMQConsumer(
		rabbitMQRepo.Channel(),
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	sourceRepo := repository.NewSourceRepository(db, cfg.Embedding.Dimension, log)
	assignmentRepo := repository.NewAssignmentRepository(db, log)
	analysisRepo := repository.NewAnalysisRepository(db, log)
	notificationRepo := repository.NewNotificationRepository(db, log)

	embedder := integration.NewEmbeddingClient(integration.EmbeddingClientConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
		RetryCount: cfg.Embedding.RetryCount,
		RetryDelay: cfg.Embedding.RetryDelay,
	}, log)

	notifier := integration.NewRabbitMQNotifier(rabbitMQPublisher, integration.NotifierConfig{
		Exchange:        cfg.RabbitMQ.Exchange,
		RetryCount:      cfg.Notifications.RetryCount,
		RetryDelay:      cfg.Notifications.RetryDelay,
		DispatchTimeout: cfg.Notifications.DispatchTimeout,
	}, log)

	retriever := analyzer.NewRetriever(embedder, sourceRepo, cfg.Retrieval, log)
	scorer := analyzer.NewScorer(cfg.Scoring, cfg.Retrieval.TopK)

	notificationService := service.NewNotificationService(
		notificationRepo,
		assignmentRepo,
		analysisRepo,
		notifier,
		log,
	)

	analysisService := service.NewAnalysisService(
		assignmentRepo,
		analysisRepo,
		retriever,
		scorer,
		notificationService,
		rabbitMQPublisher,
		rabbitMQRepo,
		log,
		service.AnalysisConfig{
			Exchange:         cfg.RabbitMQ.Exchange,
			SubmitRoutingKey: cfg.RabbitMQ.RoutingKey,
		},
	)

	corpusService := service.NewCorpusService(sourceRepo, embedder, log)

	workerPool := worker.NewWorkerPool(cfg.Notifications.MaxWorkers, log)

	assignmentWorker := worker.NewAssignmentWorker(
		workerPool,
		rabbitMQConsumer,
		analysisService,
		log,
	)

	handler := httpd.NewHandler(
		analysisService,
		notificationService,
		corpusService,
		assignmentWorker,
		log,
	)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:           server,
		logger:           log,
		config:           cfg,
		db:               db,
		assignmentWorker: assignmentWorker,
		rabbitMQRepo:     rabbitMQRepo,
	}, nil
}

func (a *App) Run() error {
	ctx := context.Background()
	if err := a.assignmentWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start assignment worker")
		return err
	}

	a.logger.Info().Msgf("Starting analysis service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down analysis service...")

	if err := a.assignmentWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop assignment worker")
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Analysis service stopped")
	return nil
}
