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

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/pricing"
	"booking-service/internal/redisclient"
	"booking-service/internal/scheduler"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service")

	tp, err := util.InitTracer("booking-service", cfg.Observ.JaegerEndpoint)
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

	cacheTTL := time.Duration(cfg.Redis.TTLSeconds) * time.Second
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cacheTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	bookingProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer bookingProducer.Close()
	retryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry)
	defer retryProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(bookingProducer, retryProducer)

	paymentClient := service.NewHTTPPaymentClient(cfg.Payment.BaseURL, cfg.Payment.APIKey)
	paymentOrchestrator := service.NewPaymentOrchestrator(db, paymentClient, eventPublisher)

	availabilityChecker := service.NewAvailabilityChecker(db, redisClient)

	calculator := pricing.NewCalculator(pricing.FeePolicy{
		ServiceFeePercent:    cfg.Pricing.ServiceFeePercent,
		HostingFeeFlat:       cfg.Pricing.HostingFeeFlat,
		HostingFeePercent:    cfg.Pricing.HostingFeePercent,
		CommissionPercent:    cfg.Pricing.CommissionPercent,
		InsurancePassThrough: cfg.Pricing.InsurancePassThrough,
		Currency:             cfg.Pricing.Currency,
	})

	bookingService := service.NewBookingService(
		db,
		redisClient,
		eventPublisher,
		paymentOrchestrator,
		availabilityChecker,
		calculator,
		service.BookingPolicy{
			MinLeadTimeDays:         cfg.Booking.MinLeadTimeDays,
			CancelFreeDays:          cfg.Booking.CancelFreeDays,
			CancelLateRefundPercent: cfg.Booking.CancelLateRefundPercent,
		},
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry, cfg.Kafka.ConsumerGroup)
	retryWorker := worker.NewPaymentRetryWorker(retryConsumer, paymentOrchestrator)
	go func() {
		if err := retryWorker.Start(workerCtx); err != nil {
			log.Printf("Payment retry worker error: %v", err)
		}
	}()

	sweeps, err := scheduler.NewScheduler(bookingService, cfg.Sweep)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	sweeps.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(bookingService, availabilityChecker, paymentOrchestrator, cfg.Payment.WebhookSecret)
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

	sweeps.Stop()
	workerCancel()
	retryWorker.Stop()

	log.Println("Server exited")
}
