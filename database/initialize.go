package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/umakantv/go-utils/db"
	"github.com/umakantv/go-utils/db/migrations"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// InitializeDatabase opens the sqlite database at path. Table schemas are
// applied by the stores built on top of the connection.
func InitializeDatabase(path string) (*sqlx.DB, error) {
	config := db.DatabaseConfig{
		DRIVER: "sqlite3",
		DB:     path,
	}

	dbConn := db.GetDBConnection(config)
	if err := prepare(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}

	logger.Info("Database initialized successfully", zap.String("path", path))
	return dbConn, nil
}

// Migrate runs the operator supplied migrations in dir, if any.
func Migrate(dbConn *sqlx.DB, dir string) error {
	if dir == "" {
		return nil
	}
	if err := migrations.Migrate(dbConn, dir); err != nil {
		logger.Error("Error while running migration", zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

// Open opens a sqlite database without going through the shared connection
// helper. Use ":memory:" for a private in-memory database.
func Open(dsn string) (*sqlx.DB, error) {
	dbConn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := prepare(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

// prepare pins the pool to a single connection so every transaction is
// serialized and an in-memory database is shared by all callers.
func prepare(dbConn *sqlx.DB) error {
	dbConn.SetMaxOpenConns(1)
	if _, err := dbConn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return nil
}
