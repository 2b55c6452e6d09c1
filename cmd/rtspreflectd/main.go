// Command rtspreflectd runs the reflector as a standalone process: a
// process-wide Config, logger and *server.Server constructed once and
// passed down explicitly, with no package-level mutable state.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coldcutmedia/rtspreflect/internal/server"
	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	cfg := serverconfig.Defaults()
	if addr := os.Getenv("RTSP_SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}

	srv := server.New(cfg, nil, log.Logger)

	log.Info().Ints("ports", cfg.RTSPPortList).Str("address", cfg.ServerAddress).Msg("starting reflector")

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("reflector stopped")
	}
}
