package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// OpenPostgres opens a client-server PostgreSQL database and initializes its
// schema. This is the multi-writer, production backend: several endpointd
// processes can share one database. Grounded on
// examples/postgres/plugin.go's NewPostgresPlugin.
func OpenPostgres(connStr string) (Store, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	for _, stmt := range schemaStatements("JSONB", "BIGSERIAL PRIMARY KEY") {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &sqlStore{db: db}, nil
}
