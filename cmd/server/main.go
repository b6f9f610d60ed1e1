package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mittelbank/bankd"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	cfg, err := bankd.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config")
	}

	pgendpt, err := bankd.NewPostgresEndpoint(cfg.Database.ConnStr, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}
	defer pgendpt.Close()

	svc, err := bankd.NewService(pgendpt, cfg.Bank, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting service")
	}

	var wrapped bankd.Service = svc
	wrapped = bankd.NewLimitMiddleware(bankd.DefaultServiceLimits(cfg))(wrapped)
	wrapped = bankd.NewBreakerMiddleware(bankd.NewServiceBreaker())(wrapped)

	hndlr := bankd.NewHTTPHandler(wrapped, cfg.CORS, &logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: hndlr,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
}
