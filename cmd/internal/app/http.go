package app

import (
	"net/http"
	"time"

	"gymhub/cmd/identity"
	"gymhub/cmd/internal/assist"
	"gymhub/cmd/internal/chat"
	"gymhub/cmd/internal/directory"

	"github.com/jackc/pgx/v5/pgxpool"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gw *chat.Gateway,
	chatAPI *chat.HTTPHandler,
	identityAPI *identity.Handler,
	directoryAPI *directory.Handler,
	assistAPI *assist.Handler,
	metrics http.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	if chatAPI != nil {
		chatAPI.Register(mux)
	}
	if identityAPI != nil {
		identityAPI.Register(mux)
	}
	if directoryAPI != nil {
		directoryAPI.Register(mux)
	}
	if assistAPI != nil {
		assistAPI.Register(mux)
	}

	mux.HandleFunc("/ws", gw.HandleWS)
}
