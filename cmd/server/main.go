package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/jobs"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, 24*time.Hour)

	// Репозитории.
	orderRepo := repository.NewOrderRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	trustRepo := repository.NewTrustRepository(dbConn)
	reviewRepo := repository.NewReviewRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Сервисы.
	trustService := service.NewTrustService(trustRepo)
	orderService := service.NewOrderService(orderRepo, trustService,
		cfg.PlatformFeePercent, cfg.MaxRevisionsDefault, cfg.AutoApproveAfter)
	disputeService := service.NewDisputeService(disputeRepo, orderRepo, trustService)
	paymentService := service.NewPaymentService(paymentRepo, orderRepo, trustService,
		cfg.PaymentProvider, cfg.PaymentWebhookSecret)
	escrowService := service.NewEscrowService(escrowRepo, orderRepo)
	reviewService := service.NewReviewService(reviewRepo)
	notificationService := service.NewNotificationService(notificationRepo)

	// Вебсокеты и доставка уведомлений.
	hub := ws.NewHub()
	goroutine.SafeGo(hub.Run)
	notificationService.SetHub(hub)
	orderService.SetNotifier(notificationService)
	disputeService.SetNotifier(notificationService)
	paymentService.SetNotifier(notificationService)

	// Фоновое автоподтверждение сданных заказов.
	autoApprover := jobs.NewAutoApprover(orderService, cfg.AutoApproveSweepEvery)
	goroutine.SafeGoWithContext(ctx, autoApprover.Run)

	// HTTP хэндлеры.
	orderHandler := httpHandlers.NewOrderHandler(orderService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService, escrowService)
	webhookHandler := httpHandlers.NewWebhookHandler(paymentService)
	trustHandler := httpHandlers.NewTrustHandler(trustService)
	reviewHandler := httpHandlers.NewReviewHandler(reviewService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, orderHandler, disputeHandler, paymentHandler,
		webhookHandler, trustHandler, reviewHandler, notificationHandler,
		wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
