package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/haggle-ai/haggle/internal/model"
)

const dealColumns = `id, item_id, item_name, final_price, crypto_amount, currency, memo,
	 buyer_did, secret, status, transaction_hash, block_number, from_address, paid_at,
	 created_at, expires_at, updated_at`

// CreateDeal inserts a new PENDING deal. A collision on the unique memo
// index is reported as ErrDuplicateMemo so the caller can regenerate.
func (db *DB) CreateDeal(ctx context.Context, deal *model.Deal) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO locked_deals
		     (id, item_id, item_name, final_price, crypto_amount, currency, memo,
		      buyer_did, secret, status, created_at, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $11)`,
		deal.ID, deal.ItemID, deal.ItemName, deal.FinalPrice, deal.CryptoAmount,
		deal.Currency, deal.Memo, deal.BuyerDID, deal.Secret, deal.Status,
		deal.CreatedAt, deal.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "locked_deals_memo_key" {
			return ErrDuplicateMemo
		}
		return fmt.Errorf("storage: create deal: %w", err)
	}
	return nil
}

// GetDeal loads a deal by id.
func (db *DB) GetDeal(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM locked_deals WHERE id = $1`, id)
	deal, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get deal: %w", err)
	}
	return deal, nil
}

// MarkDealPaid records payment proof on a deal, conditional on it still
// being PENDING. Returns false without error when another writer got there
// first; the caller re-reads to learn the winning state.
func (db *DB) MarkDealPaid(ctx context.Context, id uuid.UUID, proof *model.PaymentProof) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE locked_deals
		 SET status = 'PAID',
		     transaction_hash = $2,
		     block_number = $3,
		     from_address = $4,
		     paid_at = $5,
		     updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'`,
		id, proof.TransactionHash, proof.BlockNumber, proof.FromAddress, proof.ConfirmedAt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark deal paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireDeal moves a deal to EXPIRED, conditional on it still being
// PENDING. Returns false when the transition lost to a concurrent writer.
func (db *DB) ExpireDeal(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE locked_deals
		 SET status = 'EXPIRED', updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("storage: expire deal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdueDeals flips every PENDING deal whose deadline has passed.
// Run periodically so deals nobody polls still reach a terminal state.
func (db *DB) ExpireOverdueDeals(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE locked_deals
		 SET status = 'EXPIRED', updated_at = now()
		 WHERE status = 'PENDING' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: expire overdue deals: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeal(row pgx.Row) (*model.Deal, error) {
	var deal model.Deal
	err := row.Scan(
		&deal.ID, &deal.ItemID, &deal.ItemName, &deal.FinalPrice, &deal.CryptoAmount,
		&deal.Currency, &deal.Memo, &deal.BuyerDID, &deal.Secret, &deal.Status,
		&deal.TransactionHash, &deal.BlockNumber, &deal.FromAddress, &deal.PaidAt,
		&deal.CreatedAt, &deal.ExpiresAt, &deal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &deal, nil
}
