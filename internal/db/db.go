package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DB holds the optional backing stores. Either field may be nil: the party
// server keeps running in memory without them.
type DB struct {
	Postgres *sql.DB
	Redis    *redis.Client

	log *logrus.Entry
}

// NewDB opens the connections that are configured. An empty URL skips that
// store, and a store that cannot be reached is logged and left nil.
func NewDB(postgresURL, redisURL string) (*DB, error) {
	db := &DB{log: logrus.WithField("component", "db")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if postgresURL != "" {
		pg, err := sql.Open("postgres", postgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		// Configure connection pool
		pg.SetMaxOpenConns(10)
		pg.SetMaxIdleConns(5)
		pg.SetConnMaxLifetime(5 * time.Minute)

		if err := pg.PingContext(ctx); err != nil {
			db.log.WithError(err).Warn("Failed to connect to PostgreSQL (continuing without history)")
			pg.Close()
		} else {
			db.Postgres = pg
			db.log.Info("PostgreSQL connection established")
		}
	}

	if redisURL != "" {
		opts, err := RedisOptions(redisURL)
		if err != nil {
			db.log.WithError(err).Warn("Failed to parse Redis URL (continuing without Redis)")
			return db, nil
		}

		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			db.log.WithError(err).Warn("Failed to connect to Redis (continuing without Redis)")
			rdb.Close()
		} else {
			db.Redis = rdb
			db.log.Info("Redis connection established")
		}
	}

	return db, nil
}

// RedisOptions supports both "host:port" and "redis://..." URL formats.
func RedisOptions(redisURL string) (*redis.Options, error) {
	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		// Simple host:port format
		opts.Addr = redisURL
		opts.Password = os.Getenv("REDIS_PASSWORD")
		return opts, nil
	}

	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	opts.Addr = parsedURL.Host
	if parsedURL.User != nil {
		opts.Username = parsedURL.User.Username()
		if password, ok := parsedURL.User.Password(); ok {
			opts.Password = password
		}
	}
	// Use TLS for rediss:// scheme
	if parsedURL.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts, nil
}

// Close closes all database connections
func (db *DB) Close() error {
	var errs []error

	if db.Postgres != nil {
		if err := db.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing databases: %v", errs)
	}

	return nil
}

// RunMigrations executes SQL migration files in order
func (db *DB) RunMigrations(migrationsPath string) error {
	if db.Postgres == nil {
		db.log.Info("No database configured, skipping migrations")
		return nil
	}
	db.log.Info("Running migrations...")

	// Create migrations table if it doesn't exist
	_, err := db.Postgres.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.Postgres.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}

		if exists {
			db.log.WithField("version", version).Debug("Migration already applied, skipping")
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", version, err)
		}

		tx, err := db.Postgres.Begin()
		if err != nil {
			return fmt.Errorf("failed to start transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}

		db.log.WithField("version", version).Info("Applied migration")
	}

	db.log.Info("All migrations completed successfully")
	return nil
}

// Health reports the state of each configured store. Stores that are not
// configured are omitted.
func (db *DB) Health(ctx context.Context) map[string]string {
	status := make(map[string]string)

	if db.Postgres != nil {
		status["postgres"] = "ok"
		if err := db.Postgres.PingContext(ctx); err != nil {
			db.log.WithError(err).Warn("Postgres health check failed")
			status["postgres"] = "unavailable"
		}
	}

	if db.Redis != nil {
		status["redis"] = "ok"
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			db.log.WithError(err).Warn("Redis health check failed")
			status["redis"] = "unavailable"
		}
	}

	return status
}
