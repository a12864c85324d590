package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CollectionBackend stores one encoded record collection in a row of
// record_collections. It satisfies records.Backend.
type CollectionBackend struct {
	db   *DB
	name string
}

// Collection returns a backend for the named collection
func (db *DB) Collection(name string) *CollectionBackend {
	if name == "" {
		name = DefaultCollection
	}
	return &CollectionBackend{db: db, name: name}
}

// Name returns the collection name
func (c *CollectionBackend) Name() string {
	return c.name
}

// Load returns the stored collection, or nil if it was never saved
func (c *CollectionBackend) Load(ctx context.Context) ([]byte, error) {
	var content []byte
	err := c.db.pool.QueryRow(ctx,
		`SELECT content FROM record_collections WHERE name = $1`,
		c.name,
	).Scan(&content)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load collection %s: %w", c.name, err)
	}
	return content, nil
}

// Save replaces the stored collection in a single statement
func (c *CollectionBackend) Save(ctx context.Context, data []byte) error {
	_, err := c.db.pool.Exec(ctx,
		`INSERT INTO record_collections (name, content)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET content = $2, updated_at = NOW()`,
		c.name, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save collection %s: %w", c.name, err)
	}
	return nil
}
