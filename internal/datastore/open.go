package datastore

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

// DefaultSlowQueryThreshold is used when the settings leave it unset.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// sqliteParams enables FK enforcement so deleting a scan cascades to its
// detections, and makes writers wait instead of failing on SQLITE_BUSY.
const sqliteParams = "_foreign_keys=on&_busy_timeout=5000"

// Store is the GORM backed implementation of Interface.
type Store struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

var _ Interface = (*Store)(nil)

// Open connects to the database selected by settings.Driver.
// The schema is not migrated; call Migrate for that.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}

	var dialector gorm.Dialector
	switch settings.Driver {
	case conf.DriverSQLite, "":
		dsn, err := sqliteDSN(settings.SQLite.Path)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case conf.DriverMySQL:
		dialector = mysql.Open(mysqlDSN(&settings.MySQL))
	case conf.DriverPostgres:
		dialector = postgres.Open(settings.Postgres.DSN)
	default:
		return nil, validationError("unsupported database driver", "database.driver", settings.Driver)
	}

	driver := settings.Driver
	if driver == "" {
		driver = conf.DriverSQLite
	}
	store, err := OpenDialector(dialector, driver, settings.SlowQueryThreshold, log)
	if err != nil {
		return nil, err
	}

	maxOpen := settings.MaxOpenConns
	if store.driver == conf.DriverSQLite && settings.SQLite.Path == ":memory:" {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	if maxOpen > 0 {
		if sqlDB, err := store.db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
	}

	log.Info("database opened", logger.String("driver", store.driver))
	return store, nil
}

// OpenSQLite opens a SQLite database at path. ":memory:" is accepted.
func OpenSQLite(path string, log logger.Logger) (*Store, error) {
	return Open(&conf.DatabaseSettings{
		Driver: conf.DriverSQLite,
		SQLite: conf.SQLiteSettings{Path: path},
	}, log)
}

// OpenDialector wraps an already configured GORM dialector.
func OpenDialector(dialector gorm.Dialector, driver string, slowThreshold time.Duration, log logger.Logger) (*Store, error) {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowQueryThreshold
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, slowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "driver", driver)
	}

	return &Store{db: db, driver: driver, log: log}, nil
}

// sqliteDSN resolves the database path and appends connection parameters.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "spinescan.db"
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path + "?" + sqliteParams, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", dbError(err, "create_directory", errors.PriorityHigh, "path", dir)
		}
	}
	return path + "?" + sqliteParams, nil
}

// mysqlDSN builds a DSN with the driver's own formatter so credentials with
// special characters are escaped correctly.
func mysqlDSN(s *conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Migrate creates or updates the scans and detections tables.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	if err := s.db.WithContext(ctx).AutoMigrate(&Scan{}, &Detection{}); err != nil {
		return dbError(err, "migrate", errors.PriorityCritical, "driver", s.driver)
	}
	s.log.Info("schema migrated",
		logger.String("driver", s.driver),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", "")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}

// DB exposes the GORM handle for tests and maintenance commands.
func (s *Store) DB() *gorm.DB {
	return s.db
}
