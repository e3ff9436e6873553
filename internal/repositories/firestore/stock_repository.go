package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

type stockDocument struct {
	SKU       string    `firestore:"sku"`
	OnHand    int       `firestore:"onHand"`
	Committed int       `firestore:"committed"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Committed
}

func (s stockDocument) toDomain(id string) domain.StockLevel {
	return domain.StockLevel{SKU: id, OnHand: s.OnHand, Committed: s.Committed, UpdatedAt: s.UpdatedAt}
}

type commitmentDocument struct {
	SKU       string    `firestore:"sku"`
	OrderID   string    `firestore:"orderId"`
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// StockRepository keeps per-SKU stock documents. Each commit also records a commitment
// document in a subcollection for auditing.
type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider: provider,
		stocks:   pfirestore.NewBaseRepository[stockDocument](provider, stockCollection),
	}, nil
}

func (r *StockRepository) Get(ctx context.Context, sku string) (domain.StockLevel, error) {
	doc, err := r.stocks.Get(ctx, strings.TrimSpace(sku))
	if err != nil {
		return domain.StockLevel{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) Commit(ctx context.Context, sku string, quantity int, orderID string, now time.Time) (domain.StockLevel, error) {
	sku = strings.TrimSpace(sku)
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", sku), nil)
	}
	now = now.UTC()

	var level domain.StockLevel
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.DocumentRef(ctx, sku)
		if err != nil {
			return err
		}
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewNotFound("stock.commit", "stock %s not found", sku)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock %s: %w", sku, err)
		}
		if doc.OnHand-doc.Committed < quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", sku), nil)
		}
		doc.Committed += quantity
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}
		commitment := commitmentDocument{SKU: sku, OrderID: orderID, Quantity: quantity, CreatedAt: now}
		if err := tx.Create(stockRef.Collection("commitments").NewDoc(), commitment); err != nil {
			return err
		}
		level = doc.toDomain(sku)
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, wrapInventoryError("stock.commit", err)
	}
	return level, nil
}

func (r *StockRepository) Set(ctx context.Context, level domain.StockLevel) error {
	doc := stockDocument{SKU: level.SKU, OnHand: level.OnHand, Committed: level.Committed, UpdatedAt: level.UpdatedAt.UTC()}
	doc.recalculate()
	return r.stocks.Set(ctx, level.SKU, doc)
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return wrapStoreError(op, err)
}
