package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"thinkhive-api/internal/api/handlers"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/middleware"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")

	// Initialize database connection
	db, err := initDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Get underlying *sql.DB instance for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get underlying *sql.DB instance:", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	// Configuration
	billingCfg := config.NewBillingConfig()
	aiCfg := config.NewAIConfig()
	rateLimitCfg := config.NewRateLimitConfig()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		log.Fatal("CRON_SECRET environment variable is required")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	assistantRepo := repository.NewAssistantRepository(db)

	// Initialize services
	cacheService, err := services.NewRedisCacheService(config.NewCacheConfig())
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	rateLimiter := services.NewRedisRateLimiter(cacheService.Client())

	tokenizer, err := services.NewTiktokenTokenizer()
	if err != nil {
		log.Fatal("Failed to load tokenizer:", err)
	}
	usageService := services.NewUsageService(tokenizer)

	authService := services.NewAuthService(userRepo, billingCfg, jwtSecret)
	creditService := services.NewCreditService(userRepo, catalogRepo, billingCfg)
	eventService := services.NewStripeEventService(db, userRepo, subscriptionRepo, catalogRepo, billingCfg)

	aiClient := openai.NewClient(aiCfg.OpenAIKey)
	vectorStore := services.NewPineconeStore(aiCfg.PineconeAPIKey, aiCfg.PineconeIndexHost)
	answerService := services.NewAnswerService(aiClient, vectorStore, usageService, aiCfg)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	answerHandler := handlers.NewAnswerHandler(assistantRepo, creditService, answerService, usageService, cacheService)
	stripeHandler := handlers.NewStripeHandler(eventService, creditService, subscriptionRepo, catalogRepo, billingCfg)
	usageHandler := handlers.NewUsageHandler(subscriptionRepo)
	cronHandler := handlers.NewCronHandler(userRepo, subscriptionRepo, creditService, cronSecret)

	answerRateLimit := middleware.NewRateLimiter(rateLimiter, rateLimitCfg)

	// Initialize router
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// Public routes
	router.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	router.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Widget-facing answer endpoint: rate limited per client IP, no user
	// auth (the assistant id scopes everything server-side).
	answerRouter := router.PathPrefix("/api/v1/answers").Subrouter()
	answerRouter.Use(answerRateLimit.RateLimit)
	answerRouter.HandleFunc("", answerHandler.StreamAnswer).Methods("POST")

	// Billing webhook and scheduler endpoints
	router.HandleFunc("/webhooks/stripe", stripeHandler.HandleStripeWebhook).Methods("POST")
	router.HandleFunc("/internal/credit-reset", cronHandler.HandleCreditReset).Methods("POST")

	// Dashboard routes (protected)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(authService))
	apiRouter.HandleFunc("/usage", usageHandler.GetUsage).Methods("GET")
	apiRouter.HandleFunc("/billing/checkout", stripeHandler.HandleCreateCheckout).Methods("POST")
	apiRouter.HandleFunc("/billing/proration-preview", stripeHandler.HandleProrationPreview).Methods("GET")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
		},
		MaxAge: 300,
	})

	// Create server with timeouts. WriteTimeout must outlast a full
	// answer stream.
	srv := &http.Server{
		Handler:      corsMiddleware.Handler(router),
		Addr:         ":" + getPort(),
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Start server
	log.Printf("Server starting on port %s...", getPort())
	log.Fatal(srv.ListenAndServe())
}

func initDB() (*gorm.DB, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Configure GORM logger
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	// Open connection
	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("error migrating database: %v", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Product{},
		&models.Price{},
		&models.Assistant{},
		&models.Brain{},
		&models.Document{},
		&models.WebhookEvent{},
	)
}

func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5050"
	}
	return port
}
