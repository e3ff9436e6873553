package firestore

import (
	"context"
	"errors"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
)

// ProductRepository reads catalog products.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection)}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	return r.base.Set(ctx, product.ID, fromProduct(product))
}

// QuotationRepository reads and settles quotations.
type QuotationRepository struct {
	base *pfirestore.BaseRepository[quotationDocument]
}

// NewQuotationRepository constructs a Firestore-backed quotation repository.
func NewQuotationRepository(provider *pfirestore.Provider) (*QuotationRepository, error) {
	if provider == nil {
		return nil, errors.New("quotation repository requires firestore provider")
	}
	return &QuotationRepository{base: pfirestore.NewBaseRepository[quotationDocument](provider, quotationsCollection)}, nil
}

func (r *QuotationRepository) FindByID(ctx context.Context, quotationID string) (domain.Quotation, error) {
	doc, err := r.base.Get(ctx, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *QuotationRepository) Save(ctx context.Context, quotation domain.Quotation) error {
	return r.base.Set(ctx, quotation.ID, fromQuotation(quotation))
}
