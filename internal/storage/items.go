package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/haggle-ai/haggle/internal/model"
)

// GetItem loads a catalog item by id, whether or not it is active. The
// caller decides how to treat inactive items.
func (db *DB) GetItem(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, base_price, floor_price, active, embedding
		 FROM items
		 WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.Name, &item.BasePrice, &item.FloorPrice, &item.Active, &item.Embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get item: %w", err)
	}
	return &item, nil
}

// UpsertItem inserts or replaces a catalog item. Used by seed tooling and
// tests; the serving path only reads.
func (db *DB) UpsertItem(ctx context.Context, item *model.Item) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO items (id, name, base_price, floor_price, active, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     base_price = EXCLUDED.base_price,
		     floor_price = EXCLUDED.floor_price,
		     active = EXCLUDED.active,
		     embedding = EXCLUDED.embedding,
		     updated_at = now()`,
		item.ID, item.Name, item.BasePrice, item.FloorPrice, item.Active, item.Embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert item: %w", err)
	}
	return nil
}
