package main

import (
	"context"
	"flag"
	"os"

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

	lh, err := bankd.NewLocalHelper(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting local helper")
	}

	ctx := context.Background()
	if err = lh.InitDB(ctx); err != nil {
		logger.Fatal().Err(err).Msg("error initializing database")
	}
	if err = lh.Seed(ctx); err != nil {
		logger.Fatal().Err(err).Msg("error seeding sample data")
	}
}
