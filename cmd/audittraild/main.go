package main

import (
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/contractdesk/audittrail/pkg/audit"
	"github.com/contractdesk/audittrail/pkg/config"
	"github.com/contractdesk/audittrail/pkg/directory"
	"github.com/contractdesk/audittrail/pkg/documents"
	"github.com/contractdesk/audittrail/pkg/httputil"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
	"github.com/contractdesk/audittrail/pkg/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file (default $AUDITTRAIL_CONFIG_FILE)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	auditStore, err := audit.NewDBStore(db, cfg.Audit.MaxPageSize)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit store")
		os.Exit(1)
	}

	documentStore, err := documents.NewDBStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize document store")
		os.Exit(1)
	}

	dir, err := directory.NewDBDirectory(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize directory")
		os.Exit(1)
	}

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to initialize blob store")
		os.Exit(1)
	}
	logger.Infof("blob store initialized (%s)", cfg.Storage.Type)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	recorder := audit.NewRecorder(auditStore, metrics)
	auditService := audit.NewService(auditStore, dir, metrics, cfg.Audit.ExportCap)
	documentService := documents.NewService(documentStore, blobs, recorder, logger, metrics, cfg.Retention.Days)

	router := mux.NewRouter()
	audit.NewHandlers(auditService, recorder, logger).RegisterRoutes(router)
	documents.NewHandlers(documentService, logger).RegisterRoutes(router)
	if metrics != nil {
		router.Use(routeMetrics(metrics))
	}

	root := mux.NewRouter()
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := auditStore.Ping(r.Context()); err != nil {
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	}).Methods("GET")
	if metrics != nil {
		root.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	root.PathPrefix("/api/").Handler(httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		principal.Middleware,
	)(router))

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Infof("audit trail server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	if err := observability.WaitForShutdown(logger, server, cfg.Server.ShutdownTimeout); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// loadConfig prefers an explicit -config path; otherwise the environment
// (including AUDITTRAIL_CONFIG_FILE) decides.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

// routeMetrics labels requests with the matched route template so metric
// cardinality stays bounded.
func routeMetrics(m *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			m.Middleware(path, next).ServeHTTP(w, r)
		})
	}
}
