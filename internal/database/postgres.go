package database

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// ConnectPostgres opens the pool, pings it and applies schema.
func ConnectPostgres(ctx context.Context, postgresURI string, schema []string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := InitPostgresTables(ctx, db, schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitPostgresTables runs each statement in order; statements must be idempotent.
func InitPostgresTables(ctx context.Context, db *sql.DB, schema []string) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	log.Println("✅ PostgreSQL tables initialized")
	return nil
}
