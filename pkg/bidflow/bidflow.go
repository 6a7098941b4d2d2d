package bidflow

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/procurehq/bidflow/internal/config"
	"github.com/procurehq/bidflow/internal/controllers"
	"github.com/procurehq/bidflow/internal/engine"
	"github.com/procurehq/bidflow/internal/migrations"
	"github.com/procurehq/bidflow/internal/notify"
	"github.com/procurehq/bidflow/internal/process"
	"github.com/procurehq/bidflow/internal/repository"
	"github.com/procurehq/bidflow/pkg/bidflow/core"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
	"github.com/procurehq/bidflow/pkg/bidflow/models"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the orchestration engine and HTTP server.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("BIDFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := core.NewRealClock()
	persistence := repository.NewSQLPersistence(db, clock)
	notifier := setupNotifier()

	definition, err := loadProcessDefinition()
	if err != nil {
		slog.Error("Failed to load process definition", "error", err)
		os.Exit(1)
	}

	store := engine.NewStore()
	phases, err := engine.NewPhaseMachine(definition, store, persistence, notifier, clock)
	if err != nil {
		slog.Error("Invalid process definition", "error", err)
		os.Exit(1)
	}

	staleAfter, _ := time.ParseDuration(config.GetSystemSettingString(config.EXECUTOR_STALE_AFTER))
	registry := engine.NewRegistry(staleAfter, clock)

	retryEngine := engine.NewRetryEngine(retryPolicyFromConfig(), persistence, notifier, clock)

	queueSize := config.GetSystemSettingInteger(config.DISPATCH_QUEUE_SIZE)
	scheduler := engine.NewScheduler(store, phases, retryEngine, registry, persistence, clock, queueSize)

	// entering a phase seeds its declared work item sequence
	phases.RegisterHook("seedPhaseItems", func(ctx context.Context, wf *domain.Workflow) error {
		specs := phases.SequenceFor(wf.CurrentPhase)
		if len(specs) == 0 {
			return nil
		}
		return scheduler.Submit(ctx, domain.WorkItemSequence{
			WorkflowID: wf.ID,
			Phase:      wf.CurrentPhase,
			Items:      specs,
		})
	})

	ctx := context.Background()
	workerSize := config.GetSystemSettingInteger(config.DISPATCH_WORKER_SIZE)
	for i := 1; i <= workerSize; i++ {
		go engine.DispatchWorker(ctx, i, scheduler, engine.LogDispatcher{})
	}

	sweepInterval, _ := time.ParseDuration(config.GetSystemSettingString(config.SWEEP_INTERVAL))
	sweeper := engine.NewSweeper(store, scheduler, phases, clock, sweepInterval)
	go sweeper.Run(ctx)

	if mux == nil {
		mux = http.NewServeMux()
	}
	workflowsController := controllers.NewWorkflowsController(phases)
	workflowsController.RegisterRoutes(mux)
	itemsController := controllers.NewItemsController(scheduler)
	itemsController.RegisterRoutes(mux)
	executorsController := controllers.NewExecutorsController(registry)
	executorsController.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func loadProcessDefinition() (*process.Definition, error) {
	if path := config.GetSystemSettingString(config.PROCESS_FILE); path != "" {
		slog.Info("Loading process definition", "path", path)
		return process.Load(path)
	}
	return process.Procurement(), nil
}

func retryPolicyFromConfig() models.RetryPolicy {
	initial, _ := time.ParseDuration(config.GetSystemSettingString(config.RETRY_INITIAL_INTERVAL))
	max, _ := time.ParseDuration(config.GetSystemSettingString(config.RETRY_MAX_INTERVAL))
	return models.RetryPolicy{
		MaxAttempts:     config.GetSystemSettingInteger(config.RETRY_MAX_ATTEMPTS),
		InitialInterval: initial,
		MaxInterval:     max,
	}
}

func setupNotifier() engine.Notifier {
	url := config.GetSystemSettingString(config.NATS_URL)
	if url == "" {
		return notify.LogNotifier{}
	}
	n, err := notify.NewNatsNotifier(url)
	if err != nil {
		slog.Error("NATS connection failed, falling back to log notifier", "url", url, "error", err)
		return notify.LogNotifier{}
	}
	slog.Info("Publishing events to NATS", "url", url)
	return n
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("BIDFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("BIDFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("BIDFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("BIDFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("BIDFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
