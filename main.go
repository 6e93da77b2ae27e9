package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"rategate/internal/common/logging"
	"rategate/internal/config"
	"rategate/internal/metrics"
	"rategate/internal/middleware"
	"rategate/internal/ratelimit"
	"rategate/internal/server"
	"rategate/internal/store"
	"rategate/internal/store/memory"
	"rategate/internal/store/redisstore"
	"rategate/internal/store/sqlstore"
)

func main() {
	_ = godotenv.Load()
	nCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(nCPU)
	fmt.Printf("Number of CPUs: %d\n", nCPU)

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ParseLevel(cfg.LogLevel)})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize the counting backend
	st, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()

	// Initialize the admission engine
	keyFunc := ratelimit.ClientAddressKey
	if cfg.JWTSecret != "" {
		keyFunc = ratelimit.TokenSubjectKey([]byte(cfg.JWTSecret))
	}

	registry := ratelimit.NewRegistry()
	engine, err := ratelimit.New(st, registry, keyFunc, &ratelimit.Config{
		DefaultLimits:     cfg.RateLimitDefault,
		ApplicationLimits: cfg.RateLimitApplication,
		KeyPrefix:         cfg.RateLimitKeyPrefix,
		Enabled:           cfg.RateLimitEnabled,
		FallbackEnabled:   cfg.RateLimitFallback,
		Filters: []ratelimit.ExemptFunc{
			// CORS preflights carry no payload worth metering
			func(r *http.Request) bool { return r.Method == http.MethodOptions },
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize rate limit engine: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine.SetMetrics(m)

	if err := bindRoutes(registry); err != nil {
		log.Fatalf("Failed to register route bindings: %v", err)
	}

	annotator := ratelimit.NewHeaderAnnotator(ratelimit.HeaderConfig{
		Limit:      cfg.HeaderLimit,
		Remaining:  cfg.HeaderRemaining,
		Reset:      cfg.HeaderReset,
		RetryAfter: cfg.HeaderRetryAfter,
	}, cfg.RateLimitHeadersEnabled)

	// Set up routes
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(ratelimit.Middleware(engine, annotator))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/items", listItems).Methods("GET").Name("items.list")
	api.HandleFunc("/items", createItem).Methods("POST").Name("items.create")
	api.HandleFunc("/items/{id}", getItem).Methods("GET").Name("items.get")
	api.HandleFunc("/items/{id}", deleteItem).Methods("DELETE").Name("items.delete")
	api.HandleFunc("/search", search).Methods("GET").Name("items.search")

	// Operational surface, exempt from limiting
	router.HandleFunc("/health", healthHandler(st)).Methods("GET").Name("health")
	router.HandleFunc("/quota", quotaHandler(engine)).Methods("GET").Name("quota")
	router.Handle("/metrics", metrics.Handler()).Methods("GET").Name("metrics")

	srv := server.New(router, cfg.Port)
	startErr := srv.Start()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-startErr:
		log.Fatalf("Server failed to start: %v", err)
	case <-quit:
	}
	logging.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logging.Info("Server exited")
}

// newStore builds the counting backend selected by STORE_BACKEND.
func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return redisstore.NewStore(&redisstore.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDBNumber(),
			PoolSize: cfg.RedisPoolSizeNumber(),
		})
	case "sqlite":
		dsn := cfg.DatabaseDSN
		if dsn == "" {
			dsn = "./rategate.db"
		}
		return sqlstore.New("sqlite3", dsn)
	case "postgres":
		return sqlstore.New("pgx", cfg.DatabaseDSN)
	default:
		return memory.NewStore(&memory.Config{SweepInterval: cfg.MemorySweepInterval})
	}
}

// bindRoutes attaches per-route limits on top of the configured default.
// Writes share a single group so create and delete draw from one budget,
// and search pays double for its heavier queries.
func bindRoutes(registry *ratelimit.Registry) error {
	if err := registry.BindExpr("items.list", "60/minute"); err != nil {
		return err
	}

	writes, err := ratelimit.SharedBinding("writes", "10/minute;200/day")
	if err != nil {
		return err
	}
	for _, route := range []string{"items.create", "items.delete"} {
		if err := registry.Bind(route, writes); err != nil {
			return err
		}
	}

	searchBinding, err := ratelimit.NewBinding("30/minute")
	if err != nil {
		return err
	}
	searchBinding.Cost = func(*http.Request) int64 { return 2 }
	if err := registry.Bind("items.search", searchBinding); err != nil {
		return err
	}

	exempt := ratelimit.Binding{Exempt: true}
	for _, route := range []string{"health", "quota", "metrics"} {
		if err := registry.Bind(route, exempt); err != nil {
			return err
		}
	}
	return nil
}

func healthHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy"}
		code := http.StatusOK
		if err := st.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// quotaHandler reports the caller's current counters for a named route
// without consuming quota. The route is passed as ?route=items.list.
func quotaHandler(engine *ratelimit.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Query().Get("route")
		if route == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "route query parameter is required"})
			return
		}
		statuses, err := engine.Inspect(r.Context(), r, route)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

func listItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []string{})
}

func createItem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func getItem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": mux.Vars(r)["id"]})
}

func deleteItem(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func search(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"query": r.URL.Query().Get("q")})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}
