package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LineRequest is one requested listing and quantity
type LineRequest struct {
	ListingID string `json:"listing_id"`
	Qty       int    `json:"qty"`
}

// InventoryLedger owns listing quantities
type InventoryLedger struct {
	store  Store
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store Store) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		logger: util.GetLogger(),
	}
}

// ReserveAndDecrement checks every requested line against the seller's listings and
// takes the stock off. Either all lines are decremented or none are. The returned
// lines carry the unit price at this moment.
func (l *InventoryLedger) ReserveAndDecrement(ctx context.Context, sellerCompanyID, sellerBranchID string, req []LineRequest) ([]models.OrderLine, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveAndDecrement")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if len(req) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", models.ErrInvalidInput)
	}

	ids := make([]string, 0, len(req))
	for _, r := range req {
		ids = append(ids, r.ListingID)
	}
	sort.Strings(ids)

	var lines []models.OrderLine
	err := l.store.WithTx(ctx, func(ctx context.Context) error {
		locked, err := l.store.GetListingsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]models.Listing, len(locked))
		for _, listing := range locked {
			byID[listing.ID] = listing
		}

		// validate every line before touching any stock
		lines = make([]models.OrderLine, 0, len(req))
		for _, r := range req {
			listing, ok := byID[r.ListingID]
			if !ok {
				return fmt.Errorf("listing %s: %w", r.ListingID, models.ErrNotFound)
			}
			if listing.CompanyID != sellerCompanyID || listing.BranchID != sellerBranchID {
				return fmt.Errorf("%w: listing %s", models.ErrListingMismatch, r.ListingID)
			}
			if !listing.IsActive {
				return fmt.Errorf("%w: listing %s", models.ErrListingInactive, r.ListingID)
			}
			if listing.Qty < r.Qty {
				return fmt.Errorf("%w: listing %s has %d, requested %d",
					models.ErrInsufficientStock, r.ListingID, listing.Qty, r.Qty)
			}
			lines = append(lines, models.OrderLine{
				ID:        uuid.New().String(),
				ListingID: listing.ID,
				Qty:       r.Qty,
				UnitPrice: listing.Price,
				Subtotal:  listing.Price.Mul(decimal.NewFromInt(int64(r.Qty))),
			})
		}

		for _, line := range lines {
			if err := l.store.DecrementListingQty(ctx, line.ListingID, line.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}
	return lines, nil
}

// DeactivateListing hides a listing from new orders. Only the owning branch may do
// this and the quantity on hand is left as is.
func (l *InventoryLedger) DeactivateListing(ctx context.Context, caller models.Caller, listingID string) error {
	listing, err := l.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.CompanyID != caller.CompanyID || listing.BranchID != caller.BranchID {
		return fmt.Errorf("%w: listing %s belongs to another branch", models.ErrForbidden, listingID)
	}
	if err := l.store.DeactivateListing(ctx, listingID); err != nil {
		return err
	}

	l.logger.Info("Listing deactivated",
		zap.String("listing_id", listingID),
		zap.String("uid", caller.UID))
	return nil
}

// GetListing retrieves a listing
func (l *InventoryLedger) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	return l.store.GetListing(ctx, listingID)
}

// mergeLines folds repeated listing ids into one line, keeping first-seen order
func mergeLines(req []LineRequest) ([]LineRequest, error) {
	merged := make([]LineRequest, 0, len(req))
	index := make(map[string]int, len(req))
	for _, r := range req {
		if r.ListingID == "" {
			return nil, fmt.Errorf("%w: listing_id is required", models.ErrInvalidInput)
		}
		if r.Qty <= 0 {
			return nil, fmt.Errorf("%w: qty must be positive for listing %s", models.ErrInvalidInput, r.ListingID)
		}
		if i, ok := index[r.ListingID]; ok {
			merged[i].Qty += r.Qty
			continue
		}
		index[r.ListingID] = len(merged)
		merged = append(merged, r)
	}
	return merged, nil
}
