package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/notifhub/notifhub/internal/config"
	"github.com/notifhub/notifhub/internal/engine"
	"github.com/notifhub/notifhub/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	serverAddr := flag.String("addr", "", "HTTP server address (overrides config)")
	redisURL := flag.String("redis", "", "Redis connection URL (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configFile, *serverAddr, *redisURL, *logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		Format:        logging.LogFormat(cfg.Logging.Format),
		IncludeCaller: cfg.Logging.IncludeCaller,
		Output:        os.Stdout,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}

	ctx := context.Background()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	if err := eng.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Engine exited with error")
	}
}
