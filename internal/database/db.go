package database

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib" // PostgreSQL driver (pgx)
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/agentx/aitalk/internal/config"
)

// Supported values for config.DatabaseConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// DB wraps the database connection
type DB struct {
	*sqlx.DB
	Driver string
}

// NewConnection creates a new database connection
func NewConnection(cfg config.DatabaseConfig) (*DB, error) {
	dsn, err := GetDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if cfg.Driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Driver: cfg.Driver}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetDSN returns the driver-specific connection string.
func GetDSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverPGX:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode), nil
	case DriverMySQL:
		return mysqlConfig(cfg).FormatDSN(), nil
	case DriverSQLite:
		return cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// mysqlConfig pins the session to UTC: DATETIME columns carry no zone and
// are always written and read as UTC.
func mysqlConfig(cfg config.DatabaseConfig) *mysql.Config {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4", "time_zone": "'+00:00'"}
	return mc
}
