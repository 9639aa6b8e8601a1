package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vision-ocr/api/handlers"
	"github.com/feichai0017/vision-ocr/api/routes"
	"github.com/feichai0017/vision-ocr/config"
	"github.com/feichai0017/vision-ocr/internal/bootstrap"
	"github.com/feichai0017/vision-ocr/pkg/logger"
)

func main() {
	cfg := config.Get()

	// init logger
	log, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// init OCR pipeline
	pipeline, err := bootstrap.NewPipeline(cfg, log, bootstrap.Hooks{})
	if err != nil {
		log.Fatal("Failed to build OCR pipeline", logger.Error(err))
	}
	defer pipeline.Close()

	// init handlers
	h := handlers.NewHandlers(pipeline.Service, log.Named("api"), &handlers.OCRHandlerConfig{
		MaxUploadSize:  cfg.Server.MaxUploadSize,
		TempRoot:       cfg.TempRoot,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 8 << 20
	routes.SetupRoutes(r, h, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
