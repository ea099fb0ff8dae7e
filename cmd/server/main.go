package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"iwitness/internal/consent"
	"iwitness/internal/evidence"
	jwttoken "iwitness/internal/jwt_token"
	"iwitness/internal/jurisdiction"
	"iwitness/internal/lead"
	"iwitness/internal/ledger"
	"iwitness/internal/ledger/mirror"
	"iwitness/internal/platform/config"
	"iwitness/internal/platform/httpserver"
	"iwitness/internal/platform/logger"
	"iwitness/internal/platform/metrics"
	"iwitness/internal/platform/postgres"
	platformredis "iwitness/internal/platform/redis"
	httptransport "iwitness/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Every backing
// service (Postgres, Redis, Kafka) is optional; absent configuration degrades
// to in-memory operation so local runs need nothing but the binary.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err.Error())
			os.Exit(1)
		}
		if err := db.Ping(); err != nil {
			log.Error("ping postgres", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(context.Background(), db); err != nil {
			log.Error("apply schema", "error", err.Error())
			os.Exit(1)
		}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var eventMirror ledger.Mirror
	kafkaMirror, err := mirror.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		log.Error("connect kafka", "error", err.Error())
		os.Exit(1)
	}
	if kafkaMirror != nil {
		eventMirror = kafkaMirror
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = kafkaMirror.Close(ctx)
		}()
	}

	var (
		ledgerStore   ledger.Store
		sessionStore  evidence.Store
		leadStore     lead.Store
		ruleStore     jurisdiction.RuleStore
		incidentStore jurisdiction.IncidentStore
		consentStore  consent.Store
	)
	if db != nil {
		ledgerStore = ledger.NewPostgres(db)
		sessionStore = evidence.NewPostgres(db)
		leadStore = lead.NewPostgres(db)
		ruleStore = jurisdiction.NewPostgresRuleStore(db)
		incidentStore = jurisdiction.NewPostgresIncidentStore(db)
		consentStore = consent.NewPostgres(db)
	} else {
		ledgerStore = ledger.NewInMemoryStore()
		sessionStore = evidence.NewInMemoryStore()
		leadStore = lead.NewInMemoryStore()
		ruleStore = jurisdiction.NewInMemoryRuleStore()
		incidentStore = jurisdiction.NewInMemoryIncidentStore()
		consentStore = consent.NewInMemoryStore()
	}

	var leadCache lead.CacheStore
	if redisClient != nil {
		leadCache = lead.NewRedisCache(redisClient.Client)
	} else {
		leadCache = lead.NewInMemoryCache()
	}

	eventLog := ledger.NewLog(ledgerStore, eventMirror, log, m)
	// No server-side location provider: clients hold the geolocation
	// permission and relay positions with the create request.
	sessions := evidence.NewManager(sessionStore, nil, eventLog, log, m)
	leads := lead.NewReconciler(leadStore, leadCache, eventLog, log, m)
	gate := jurisdiction.NewGate(ruleStore, incidentStore, eventLog, m)
	consents := consent.NewValidator(consentStore, gate, eventLog)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "iwitness", "iwitness-api")

	router := httptransport.NewRouter(httptransport.Services{
		Sessions: sessions,
		Leads:    leads,
		Ledger:   eventLog,
		Gate:     gate,
		Consents: consents,
		JWT:      jwtService,
		Logger:   log,
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting iwitness ledger", "addr", cfg.Addr, "postgres", db != nil, "redis", redisClient != nil, "kafka", kafkaMirror != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}
