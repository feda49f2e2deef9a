package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/xtrntr/auctionroom/internal/api"
	"github.com/xtrntr/auctionroom/internal/auction"
	"github.com/xtrntr/auctionroom/internal/auth"
	"github.com/xtrntr/auctionroom/internal/config"
	"github.com/xtrntr/auctionroom/internal/db"
	"github.com/xtrntr/auctionroom/internal/events"
	"github.com/xtrntr/auctionroom/internal/logging"
	"github.com/xtrntr/auctionroom/internal/seed"
	"github.com/xtrntr/auctionroom/internal/store"
	"github.com/xtrntr/auctionroom/internal/store/memstore"
	"github.com/xtrntr/auctionroom/internal/timer"
	"github.com/xtrntr/auctionroom/internal/wallet"
)

// Main entry point: sets up storage, the auction engine and the HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		st    store.Store
		users auth.UserStore
		funds interface {
			auction.Wallet
			api.Balances
			seed.Depositor
		}
	)
	switch cfg.Store {
	case config.StorePostgres:
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close(context.Background())
		if err := database.Pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		st, users, funds = database, database, wallet.NewPGService(database.Pool)
	default:
		mem := memstore.New()
		st, users, funds = mem, mem, wallet.NewMemory()
		log.Warn().Msg("using in-memory store; state is lost on restart")
	}

	var pub events.Publisher = events.LogPublisher{}
	if cfg.NATSURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		jsCfg.StreamName = cfg.NATSStream
		jsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		jsPub, err := events.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		pub = jsPub
	}
	defer pub.Close()

	clock := clockwork.NewRealClock()
	engine := auction.NewEngine(st, funds, timer.NewAuthority(clock, cfg.TimerDefault()), pub)
	authService := auth.NewAuthService(users, cfg.JWTSecret, cfg.JWTTTL, clock)
	handler := api.NewHandler(engine, authService, funds)

	if cfg.Store == config.StoreMemory && cfg.SeedFile != "" {
		seedMemory(ctx, cfg.SeedFile, authService, funds, engine)
	}

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog)
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("store", cfg.Store).
			Int("timer_default_seconds", cfg.TimerDefaultSeconds).
			Bool("nats", cfg.NATSURL != "").
			Msg("starting auction server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

// seedMemory loads the fixture into a fresh memory store so local runs have
// funded bidders. A missing file only warns.
func seedMemory(ctx context.Context, path string, authService *auth.AuthService, funds seed.Depositor, engine *auction.Engine) {
	f, err := seed.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("seed_file", path).Msg("seed file not found; memory store starts empty")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("seed_file", path).Msg("failed to load seed file")
	}
	res, err := seed.Apply(ctx, f, authService, funds, engine)
	if err != nil {
		log.Fatal().Err(err).Str("seed_file", path).Msg("failed to seed memory store")
	}
	log.Info().Str("seed_file", path).Int("users", len(res.Users)).Int("auctions", len(res.Auctions)).Msg("memory store seeded")
}
