// Package app wires the gymhub server runtime: config, logging, persistence,
// HTTP routes, and the realtime chat gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"gymhub/cmd/identity"
	"gymhub/cmd/internal/assist"
	"gymhub/cmd/internal/chat"
	"gymhub/cmd/internal/directory"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the gymhub server runtime: it owns HTTP wiring and the chat
// gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metricsReg *prometheus.Registry

	gw      *chat.Gateway
	chatAPI *chat.HTTPHandler

	identityAPI  *identity.Handler
	directoryAPI *directory.Handler
	assistAPI    *assist.Handler

	rdb   *redis.Client
	relay *chat.RedisBroadcaster
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, dbEnabled, chatStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var identityStore *identity.PostgresStore
	var directoryStore *directory.PostgresStore
	if dbEnabled {
		identityStore, err = identity.NewPostgresStore(dbPool)
		if err != nil {
			dbPool.Close()
			return nil, err
		}
		directoryStore, err = directory.NewPostgresStore(dbPool)
		if err != nil {
			dbPool.Close()
			return nil, err
		}
	}

	metricsReg := prometheus.NewRegistry()
	metrics := chat.NewMetrics(metricsReg)

	registry := chat.NewRegistry(log)
	local := chat.NewLocalBroadcaster(log, registry, metrics)

	var bcast chat.Broadcaster = local
	var rdb *redis.Client
	var relay *chat.RedisBroadcaster
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(ropts)
		relay, err = chat.NewRedisBroadcaster(context.Background(), log, rdb, local, "")
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("start redis relay: %w", err)
		}
		bcast = relay
		log.Info("chat.relay.enabled", "addr", ropts.Addr)
	}

	// identityStore may be nil in in-memory mode; the service then reports
	// every partner as unresolvable, which degrades listings to empty.
	var resolver chat.IdentityResolver
	if identityStore != nil {
		resolver = identityStore
	}
	svc := chat.NewService(log, chatStore, resolver)

	gw := chat.NewGateway(log, svc, registry, bcast, metrics)
	chatAPI := chat.NewHTTPHandler(log, svc)

	var identityAPI *identity.Handler
	var directoryAPI *directory.Handler
	var assistAPI *assist.Handler
	if dbEnabled {
		identityAPI = identity.NewHandler(log, identityStore)
		directoryAPI = directory.NewHandler(log, directoryStore, svc)

		if cfg.AssistURL != "" {
			gen, err := assist.NewHTTPGenerator(cfg.AssistURL, cfg.AssistAPIKey)
			if err != nil {
				return nil, err
			}
			assistAPI = assist.NewHandler(log, gen, identityStore)
		}
	}

	return &App{
		cfg:          cfg,
		log:          log,
		store:        st,
		dbPool:       dbPool,
		dbEnabled:    dbEnabled,
		metricsReg:   metricsReg,
		gw:           gw,
		chatAPI:      chatAPI,
		identityAPI:  identityAPI,
		directoryAPI: directoryAPI,
		assistAPI:    assistAPI,
		rdb:          rdb,
		relay:        relay,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(a.metricsReg, promhttp.HandlerOpts{})
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gw, a.chatAPI, a.identityAPI, a.directoryAPI, a.assistAPI, metricsHandler)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Error("chat.relay.close.fail", "err", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a bind address into a URL a local client can reach.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// wsBaseURL converts an http(s) base URL into its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

// newStore decides between Postgres-backed persistence and the in-memory
// dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, chat.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, chat.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	chatStore, err := chat.NewPostgresStore(pool) // default schema "gymhub"
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, chatStore: chatStore}, pool, true, chatStore, nil
}

type dbStore struct {
	pool      *pgxpool.Pool
	chatStore chat.Store
}

func (s dbStore) Close(_ context.Context) error {
	if s.chatStore != nil {
		_ = s.chatStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
