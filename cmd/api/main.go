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

	"github.com/spf13/pflag"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/api"
	"voc-insights-go/internal/config"
	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/pipeline"
)

func main() {
	envFile := pflag.String("env", ".env", "optional dotenv file")
	addrFlag := pflag.String("addr", "", "listen address (default :$PORT)")
	pflag.Parse()

	log := logger.New()
	log.WithField("service", "voc-insights-go").Info("starting service")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	st, err := cfg.OpenStore()
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()
	log.WithField("backend", cfg.StoreBackend).Info("store opened")

	if cfg.LLM.UseMock {
		log.Warn("using mock summarizer")
	} else if cfg.LLM.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set; summaries will hold the missing-key placeholder")
	}

	runner := pipeline.NewRunner(st, cfg.Summarizer(), aggregator.Options{
		TopCategories: cfg.TopCategories,
		SampleSize:    cfg.SampleSize,
	})
	manager := pipeline.NewManager(runner)

	srvAPI := api.New(st, manager, api.Options{
		UploadDir:     cfg.UploadDir,
		AdminPassword: cfg.AdminPassword,
		FilePassword:  cfg.FilePassword,
	})
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set; mutating endpoints are disabled")
	}

	addr := *addrFlag
	if addr == "" {
		addr = fmt.Sprintf(":%s", cfg.Port)
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvAPI.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	manager.Close()
}
