// Package documents renders order documents and stores them in Cloud Storage.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

// Document types.
const (
	TypeOrderConfirmation = "ORDER_CONFIRMATION"
	TypeDeliveryNote      = "DELIVERY_NOTE"
	TypeInvoice           = "INVOICE"
	TypeReceipt           = "RECEIPT"

	documentIDPrefix = "doc_"
	contentTypeHTML  = "text/html; charset=utf-8"
)

// ObjectWriter persists rendered bytes under an object name.
type ObjectWriter interface {
	Write(ctx context.Context, object string, contentType string, data []byte) error
}

// Config wires the StorageGenerator.
type Config struct {
	Writer    ObjectWriter
	Documents repositories.DocumentRepository
	// Locale selects number formatting, for example "ja" or "en-US".
	Locale      string
	Clock       func() time.Time
	IDGenerator func() string
}

// StorageGenerator renders the documents belonging to a status transition and indexes them.
type StorageGenerator struct {
	writer    ObjectWriter
	documents repositories.DocumentRepository
	renderer  *renderer
	clock     func() time.Time
	newID     func() string
}

var _ services.DocumentGenerator = (*StorageGenerator)(nil)

// NewStorageGenerator validates the configuration and parses the templates.
func NewStorageGenerator(cfg Config) (*StorageGenerator, error) {
	if cfg.Writer == nil {
		return nil, errors.New("documents: object writer is required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("documents: document repository is required")
	}
	r, err := newRenderer(cfg.Locale)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &StorageGenerator{
		writer:    cfg.Writer,
		documents: cfg.Documents,
		renderer:  r,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

// Generate renders every document due for the status that the order does not have yet.
func (g *StorageGenerator) Generate(ctx context.Context, req services.DocumentRequest) ([]domain.OrderDocument, error) {
	due := Due(req)
	if len(due) == 0 {
		return nil, nil
	}
	existing, err := g.documents.ListByOrder(ctx, req.Order.ID)
	if err != nil {
		return nil, fmt.Errorf("documents: list %s: %w", req.Order.ID, err)
	}
	have := make(map[string]bool, len(existing))
	for _, doc := range existing {
		have[doc.Type] = true
	}

	var generated []domain.OrderDocument
	var errs []error
	for _, docType := range due {
		if have[docType] {
			continue
		}
		doc, err := g.generate(ctx, req, docType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		generated = append(generated, doc)
	}
	return generated, errors.Join(errs...)
}

func (g *StorageGenerator) generate(ctx context.Context, req services.DocumentRequest, docType string) (domain.OrderDocument, error) {
	doc := domain.OrderDocument{
		ID:        documentIDPrefix + g.newID(),
		OrderID:   req.Order.ID,
		Type:      docType,
		CreatedAt: g.clock(),
	}
	path, err := storage.OrderDocumentPath(doc.OrderID, docType, doc.ID, "html")
	if err != nil {
		return domain.OrderDocument{}, fmt.Errorf("documents: %s path: %w", docType, err)
	}
	doc.Path = path

	var buf bytes.Buffer
	if err := g.renderer.render(&buf, docType, req); err != nil {
		return domain.OrderDocument{}, fmt.Errorf("documents: render %s: %w", docType, err)
	}
	if err := g.writer.Write(ctx, path, contentTypeHTML, buf.Bytes()); err != nil {
		return domain.OrderDocument{}, fmt.Errorf("documents: upload %s: %w", docType, err)
	}
	if err := g.documents.Insert(ctx, doc); err != nil {
		return domain.OrderDocument{}, fmt.Errorf("documents: index %s: %w", docType, err)
	}
	return doc, nil
}

// Due lists the document types a transition into req.Status calls for. Settled payments get a
// receipt; confirmed orders that are still unpaid get an invoice.
func Due(req services.DocumentRequest) []string {
	paid := req.Payment != nil && req.Payment.CurrentStatus() == domain.PaymentStatusPaid
	switch req.Status.Normalize() {
	case domain.OrderStatusPending:
		return []string{TypeOrderConfirmation}
	case domain.OrderStatusConfirmed:
		if paid {
			return []string{TypeDeliveryNote, TypeReceipt}
		}
		return []string{TypeDeliveryNote, TypeInvoice}
	case domain.OrderStatusFulfilled:
		if paid {
			return []string{TypeReceipt}
		}
	}
	return nil
}
