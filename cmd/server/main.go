package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/api/option"

	"github.com/gregorydickson/loan-sub000/internal/blob"
	"github.com/gregorydickson/loan-sub000/internal/config"
	"github.com/gregorydickson/loan-sub000/internal/extraction"
	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/ocr"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
	"github.com/gregorydickson/loan-sub000/internal/service"
	"github.com/gregorydickson/loan-sub000/internal/store"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var st store.Store
	var bucket blob.Bucket
	if cfg.UseMemoryStore {
		logger.Info("using in-memory store and bucket for local development")
		st = store.NewMemoryStore()
		bucket = blob.NewMemoryBucket(cfg.BucketName)
	} else {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			logger.Fatal("failed to create Firestore client", "error", err)
		}
		defer fsClient.Close()
		st = store.NewFirestoreStore(fsClient)

		gcsClient, err := storage.NewClient(ctx, opts...)
		if err != nil {
			logger.Fatal("failed to create Cloud Storage client", "error", err)
		}
		defer gcsClient.Close()
		bucket = blob.NewGCSBucket(gcsClient, cfg.BucketName)
	}

	var gpu *ocr.GPUClient
	if cfg.OCRServiceURL != "" {
		gpu = ocr.NewGPUClient(ocr.GPUClientConfig{
			BaseURL:        cfg.OCRServiceURL,
			APIKey:         cfg.OCRAPIKey,
			RequestTimeout: cfg.OCRRequestTimeout,
			HealthTimeout:  cfg.OCRHealthTimeout,
		})
	} else {
		logger.Warn("OCR_SERVICE_URL not set, scanned pages use local extraction only")
	}

	renderer := ocr.NewPageRenderer(cfg.OCRRenderDPI)
	ocrRouter := ocr.NewRouter(ocr.RouterConfig{
		Detector: ocr.NewDetector(cfg.DetectorMinChars, cfg.DetectorScannedRatio),
		Native:   ocr.NewNativeExtractor(renderer, cfg.DetectorMinChars, logger),
		Renderer: renderer,
		GPU:      gpu,
		Breaker: ocr.NewBreaker(ocr.BreakerConfig{
			FailMax:      uint32(cfg.BreakerFailMax),
			ResetTimeout: cfg.BreakerResetTimeout,
		}, logger),
		MaxWorkers: cfg.OCRMaxWorkers,
		Log:        logger,
	})

	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, extraction requests will fail")
	}
	gemini := extraction.NewGeminiClient(extraction.GeminiConfig{
		APIKey:          cfg.GeminiAPIKey,
		FlashModel:      cfg.GeminiFlashModel,
		ProModel:        cfg.GeminiProModel,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	retry := extraction.RetryConfig{
		MaxRetries:    cfg.RetryAttempts - 1,
		InitialDelay:  cfg.RetryBaseWait,
		MaxDelay:      cfg.RetryMaxWait,
		BackoffFactor: 2.0,
	}
	extractor := extraction.NewRouter(extraction.RouterConfig{
		Grounded: extraction.NewGroundedExtractor(gemini, cfg.ChunkMaxChars, cfg.ChunkOverlapChars, logger),
		Docling:  extraction.NewDoclingExtractor(gemini, cfg.ChunkMaxChars, cfg.ChunkOverlapChars, logger),
		Retry:    &retry,
		Log:      logger,
	})

	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:         st,
		Bucket:        bucket,
		OCR:           ocrRouter,
		Extractor:     extractor,
		MaxRetryCount: cfg.MaxRetryCount,
		Log:           logger,
	})

	dispatcher := service.NewLocalDispatcher(service.LocalDispatcherConfig{
		Runner: processor,
		Log:    logger,
	})

	server := service.NewServer(service.ServerConfig{
		Store:          st,
		Bucket:         bucket,
		Processor:      processor,
		Dispatcher:     dispatcher,
		AuthToken:      cfg.TaskAuthToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            logger,
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173", // Local review UI
			"http://localhost:3000",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-CloudTasks-TaskName",
			"X-CloudTasks-TaskRetryCount",
			"X-Task-Name",
			"X-Task-Retry-Count",
		},
		AllowCredentials: true,
	})
	handler := c.Handler(server.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	// Stop the dispatcher after the listener so no upload races the
	// drain; in-flight deliveries finish before the process exits.
	dispatcher.Stop()
	logger.Info("shutdown complete")
}
