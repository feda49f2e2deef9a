package main

import (
	"context"
	"flag"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/xtrntr/auctionroom/internal/auction"
	"github.com/xtrntr/auctionroom/internal/auth"
	"github.com/xtrntr/auctionroom/internal/db"
	"github.com/xtrntr/auctionroom/internal/events"
	"github.com/xtrntr/auctionroom/internal/logging"
	"github.com/xtrntr/auctionroom/internal/seed"
	"github.com/xtrntr/auctionroom/internal/timer"
	"github.com/xtrntr/auctionroom/internal/wallet"
)

func main() {
	file := flag.String("file", "configs/seed.yaml", "seed fixture")
	flag.Parse()
	logging.Setup("info", true)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	f, err := seed.Load(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load fixture")
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(ctx)

	clock := clockwork.NewRealClock()
	funds := wallet.NewPGService(database.Pool)
	engine := auction.NewEngine(database, funds, timer.NewAuthority(clock, 0), events.LogPublisher{})
	authService := auth.NewAuthService(database, "seed", 0, clock)

	if _, err := seed.Apply(ctx, f, authService, funds, engine); err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}
	log.Info().Msg("seed complete")
}
