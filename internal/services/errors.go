package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/commerce/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or one of its parts could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a status that allows the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent modification or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderValidation is the root of every checkout precondition failure.
	ErrOrderValidation = errors.New("order: checkout validation failed")
	// ErrProviderFailed wraps payment, delivery and warehousing provider failures.
	ErrProviderFailed = errors.New("order: provider failed")

	// ErrDiscountCodeNotValid is returned when no discount adapter accepts the code.
	ErrDiscountCodeNotValid = errors.New("discount: CODE_NOT_VALID")
	// ErrDiscountCodeAlreadyPresent is returned when the code is bound to another order.
	ErrDiscountCodeAlreadyPresent = errors.New("discount: CODE_ALREADY_PRESENT")
	// ErrDiscountNotFound indicates the discount does not exist on the order.
	ErrDiscountNotFound = errors.New("discount: not found")
	// ErrDiscountReservationFailed wraps the adapter error of a failed reserve.
	ErrDiscountReservationFailed = errors.New("discount: reservation failed")

	ErrPaymentNotFound     = errors.New("payment: not found")
	ErrPaymentInvalidState = errors.New("payment: invalid status transition")

	ErrDeliveryNotFound     = errors.New("delivery: not found")
	ErrDeliveryInvalidState = errors.New("delivery: invalid status transition")
)

// Validation issue codes reported by checkout.
const (
	IssueOrderNotOpen            = "ORDER_NOT_OPEN"
	IssueNoItems                 = "NO_ITEMS"
	IssueBillingAddressMissing   = "BILLING_ADDRESS_MISSING"
	IssueContactMissing          = "CONTACT_MISSING"
	IssueDeliveryProviderMissing = "DELIVERY_PROVIDER_MISSING"
	IssuePaymentProviderMissing  = "PAYMENT_PROVIDER_MISSING"
	IssueItemNotValid            = "ITEM_NOT_VALID"
)

// ValidationIssue is one failed checkout precondition. PositionID is set for item issues.
type ValidationIssue struct {
	Code       string
	Message    string
	PositionID string
}

// CheckoutValidationError aggregates every failed precondition of a checkout attempt.
type CheckoutValidationError struct {
	Issues []ValidationIssue
}

func (e *CheckoutValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ErrOrderValidation.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.PositionID != "" {
			parts = append(parts, fmt.Sprintf("%s (%s): %s", issue.Code, issue.PositionID, issue.Message))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
	}
	return fmt.Sprintf("%s: %s", ErrOrderValidation.Error(), strings.Join(parts, "; "))
}

func (e *CheckoutValidationError) Unwrap() error {
	return ErrOrderValidation
}

// HasCode reports whether any issue carries the code.
func (e *CheckoutValidationError) HasCode(code string) bool {
	if e == nil {
		return false
	}
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func mapRepositoryError(err error, notFound error, conflict error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}
