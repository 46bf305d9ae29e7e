package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/logging"
	"github.com/lanscout/lanscout/internal/metrics"
)

const (
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// listener serves the operational endpoints: liveness, readiness and
// Prometheus metrics.
type listener struct {
	server   *http.Server
	database *db.DB
	log      *logging.Logger
}

func newListener(addr string, database *db.DB) *listener {
	l := &listener{
		database: database,
		log:      logging.Default().WithComponent("listener"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", l.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.GetGlobalMetrics().Handler()).Methods(http.MethodGet)

	l.server = &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return l
}

// Start serves in the background. Listen failures are logged, not
// fatal; the scan pipeline keeps running without the endpoints.
func (l *listener) Start() {
	go func() {
		l.log.Info("Listener started", "addr", l.server.Addr)
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.log.Error("Listener failed", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully within the timeout.
func (l *listener) Stop(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := l.server.Shutdown(ctx); err != nil {
		l.log.Error("Listener shutdown failed", "error", err)
	}
}

func (l *listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the database must answer a ping.
func (l *listener) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := l.database.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
