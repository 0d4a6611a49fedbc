package store

import (
	"context"
	"fmt"

	"transfer-service/internal/models"

	"github.com/lib/pq"
)

const listingColumns = `id, company_id, branch_id, brand, model, spec, qty, price, is_active, created_at, updated_at`

// CreateListing inserts a listing
func (s *Store) CreateListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (id, company_id, branch_id, brand, model, spec, qty, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return s.q(ctx).GetContext(ctx, l, query,
		l.ID, l.CompanyID, l.BranchID, l.Brand, l.Model, l.Spec, l.Qty, l.Price, l.IsActive)
}

// GetListing retrieves a listing by ID
func (s *Store) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := s.q(ctx).GetContext(ctx, &l, "SELECT "+listingColumns+" FROM listings WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "listing")
	}
	return &l, nil
}

// GetListingsForUpdate locks the given listings. Rows are locked in id order so two
// orders touching the same listings cannot deadlock.
func (s *Store) GetListingsForUpdate(ctx context.Context, ids []string) ([]models.Listing, error) {
	if len(ids) == 0 {
		return []models.Listing{}, nil
	}

	var listings []models.Listing
	err := s.q(ctx).SelectContext(ctx, &listings,
		"SELECT "+listingColumns+" FROM listings WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE",
		pq.Array(ids))
	if err != nil {
		if isInvalidID(err) {
			return nil, fmt.Errorf("listing: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock listings: %w", err)
	}
	return listings, nil
}

// DecrementListingQty takes qty units off a listing. The qty guard and the CHECK
// constraint both refuse to go below zero.
func (s *Store) DecrementListingQty(ctx context.Context, id string, qty int) error {
	res, err := s.q(ctx).ExecContext(ctx,
		"UPDATE listings SET qty = qty - $1, updated_at = NOW() WHERE id = $2 AND qty >= $1",
		qty, id)
	if err != nil {
		if isCheckViolation(err) {
			return models.ErrInsufficientStock
		}
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: listing %s", models.ErrInsufficientStock, id)
	}
	return nil
}

// DeactivateListing hides a listing from new orders without touching its qty
func (s *Store) DeactivateListing(ctx context.Context, id string) error {
	res, err := s.q(ctx).ExecContext(ctx,
		"UPDATE listings SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return notFound(err, "listing")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("listing: %w", models.ErrNotFound)
	}
	return nil
}
