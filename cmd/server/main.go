// Server entrypoint. main wires stores, domain services, and background
// workers, then runs them under one errgroup so a fatal failure in any of
// them shuts the whole process down cleanly.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"veilvote/internal/analytics"
	"veilvote/internal/anchor"
	"veilvote/internal/attestation"
	"veilvote/internal/audit"
	"veilvote/internal/ballot"
	"veilvote/internal/incentive"
	"veilvote/internal/nonce"
	"veilvote/internal/nullifier"
	"veilvote/internal/platform/config"
	"veilvote/internal/platform/httpserver"
	"veilvote/internal/platform/logger"
	"veilvote/internal/platform/metrics"
	platformredis "veilvote/internal/platform/redis"
	"veilvote/internal/poll"
	"veilvote/internal/ratelimit"
	"veilvote/internal/receipt"
	"veilvote/internal/session"
	"veilvote/internal/settings"
	"veilvote/internal/shield"
	httptransport "veilvote/internal/transport/http"
	"veilvote/internal/vote"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Receipt signing is mandatory: refusing to start beats silently
	// issuing unverifiable receipts.
	signer, err := receipt.NewSigner(cfg.ReceiptSigningSeed)
	if err != nil {
		return err
	}

	if cfg.NullifierSecret == "" {
		return errors.New("NULLIFIER_SECRET is required")
	}
	hasher, err := nullifier.New(cfg.NullifierScheme, []byte(cfg.NullifierSecret))
	if err != nil {
		return err
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	health := map[string]httptransport.HealthCheck{}

	// Store selection: postgres + redis in production, memory fallbacks
	// for local runs without infrastructure.
	var (
		polls      poll.Store
		voteStores vote.Stores
		ballots    ballot.Store
		auditStore audit.Store
		runner     vote.TxRunner
	)
	if db != nil {
		pollStore := poll.NewPostgresStore(db)
		ballotStore := ballot.NewPostgresStore(db)
		polls = pollStore
		ballots = ballotStore
		auditStore = audit.NewPostgresStore(db)
		runner = newVotePostgresTx(db)
		voteStores = vote.Stores{
			Polls:         pollStore,
			Ballots:       ballotStore,
			Nullifiers:    ballot.NewPostgresNullifierStore(db),
			Participation: ballot.NewPostgresParticipationStore(db),
			Devices:       ballot.NewPostgresDeviceLinkStore(db),
			Commitments:   ballot.NewPostgresCommitmentStore(db),
			Incentives:    incentive.NewPostgresStore(db),
		}
		health["postgres"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		pollStore := poll.NewInMemoryStore()
		ballotStore := ballot.NewInMemoryStore()
		polls = pollStore
		ballots = ballotStore
		auditStore = audit.NewInMemoryStore()
		runner = vote.NewMemoryTxRunner()
		voteStores = vote.Stores{
			Polls:         pollStore,
			Ballots:       ballotStore,
			Nullifiers:    ballotStore.Nullifiers(),
			Participation: ballotStore.Participation(),
			Devices:       ballotStore.Devices(),
			Commitments:   ballotStore.Commitments(),
			Incentives:    incentive.NewInMemoryStore(),
		}
	}

	var (
		nonceStore  nonce.Store
		limitStore  ratelimit.Store
		shieldStore shield.Store
	)
	if redisClient != nil {
		nonceStore = nonce.NewRedisStore(redisClient.Client)
		limitStore = ratelimit.NewRedisStore(redisClient.Client)
		shieldStore = shield.NewRedisStore(redisClient.Client)
		health["redis"] = redisClient.Health
	} else {
		log.Warn("REDIS_URL not set, using in-memory nonce, rate-limit, and shield stores")
		nonceStore = nonce.NewInMemoryStore()
		limitStore = ratelimit.NewInMemoryStore()
		shieldStore = shield.NewInMemoryStore()
	}

	var provider settings.Provider = settings.NewStatic(settings.Defaults())
	if db != nil {
		provider = settings.NewCached(settings.NewPostgresProvider(db), cfg.SettingsTTL)
	}

	auditSvc := audit.NewService(auditStore, log)
	shieldEngine := shield.NewEngine(shieldStore, cfg.ShieldBlockThreshold, log)
	nonces := nonce.NewService(nonceStore, cfg.NonceTTL)
	limiter := ratelimit.NewService(limitStore, ratelimit.DefaultLimits(), log)

	var attestor attestation.Verifier
	if endpoint := os.Getenv("ATTESTATION_ENDPOINT"); endpoint != "" {
		attestor, err = attestation.New("http", map[string]string{"endpoint": endpoint})
		if err != nil {
			return err
		}
	}

	votes := vote.NewService(voteStores, nonces, hasher, signer, attestor,
		provider, auditSvc, shieldEngine, runner, log)

	validator := session.NewJWTService(cfg.JWTSigningKey, "veilvote", "veilvote-api")

	handlers := httptransport.NewHandlers(httptransport.Deps{
		Logger:    log,
		Metrics:   metrics.New(),
		Validator: validator,
		Nonces:    nonces,
		Votes:     votes,
		Analytics: analytics.NewService(polls, ballots, provider, auditSvc, log),
		Polls:     polls,
		Ballots:   ballots,
		Signer:    signer,
		Limiter:   limiter,
		Shield:    shieldEngine,
		Health:    health,
	})

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handlers))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting veilvote", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.AnchorEndpoint != "" {
		worker := anchor.NewWorker(polls, anchor.NewHTTPAnchorer(cfg.AnchorEndpoint),
			cfg.AnchorInterval, auditSvc, log)
		g.Go(func() error {
			err := worker.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("ANCHOR_ENDPOINT not set, root anchoring disabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		outbox := audit.NewOutboxWorker(auditStore, producer, cfg.AuditTopic, 5*time.Second, log)
		g.Go(func() error {
			err := outbox.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, audit outbox publishing disabled")
	}

	return g.Wait()
}
