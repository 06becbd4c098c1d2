package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/analysis"
	"listing-aggregator/internal/api"
	"listing-aggregator/internal/broker"
	"listing-aggregator/internal/fetcher"
	"listing-aggregator/internal/redisclient"
	"listing-aggregator/internal/service"
	"listing-aggregator/internal/store"
	"listing-aggregator/internal/util"
	"listing-aggregator/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting listing aggregator")

	tp, err := util.InitTracer("listing-aggregator", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAnalysis)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	pool := fetcher.NewPool(
		fetcher.NewAmazonFetcher(cfg.Provider, cfg.Fetch),
		fetcher.NewEbayFetcher(cfg.Provider, cfg.Fetch),
		fetcher.NewWalmartFetcher(cfg.Provider, cfg.Fetch),
	)

	engine := analysis.NewEngine(cfg.OpenAI)
	coordinator := service.NewTaskCoordinator(db, redisClient)
	aggregator := service.NewAggregator(db, coordinator, pool, engine, redisClient, eventPublisher, cfg.Fetch)
	backgroundAnalyzer := service.NewBackgroundAnalyzer(db, coordinator, engine, eventPublisher, cfg.Fetch)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	analysisConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAnalysis, cfg.Kafka.ConsumerGroup)
	analysisWorker := worker.NewAnalysisWorker(analysisConsumer, backgroundAnalyzer)
	go func() {
		if err := analysisWorker.Start(workerCtx); err != nil {
			log.Printf("Analysis worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(aggregator, cfg.Fetch)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	analysisWorker.Stop()

	log.Println("Server exited")
}
