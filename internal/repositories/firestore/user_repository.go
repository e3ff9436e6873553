package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
)

// UserRepository persists the checkout relevant part of user profiles. Other profile fields
// in the same document are left untouched.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{base: pfirestore.NewBaseRepository[userDocument](provider, usersCollection)}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain(doc.ID)
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

// Save merges the checkout fields into the profile document.
func (r *UserRepository) Save(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("profile id is required")
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	doc := fromUser(user)
	payload := map[string]any{
		"preferredLanguage": doc.Locale,
		"country":           doc.Country,
		"updatedAt":         doc.UpdatedAt,
	}
	if doc.LastBillingAddress != nil {
		payload["lastBillingAddress"] = doc.LastBillingAddress
	}
	if doc.LastContact != nil {
		payload["lastContact"] = doc.LastContact
	}
	ref, err := r.base.DocumentRef(ctx, user.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("users.save", err)
	}
	return nil
}

type userDocument struct {
	Locale             string           `firestore:"preferredLanguage,omitempty"`
	Country            string           `firestore:"country,omitempty"`
	LastBillingAddress *addressDocument `firestore:"lastBillingAddress,omitempty"`
	LastContact        *contactDocument `firestore:"lastContact,omitempty"`
	UpdatedAt          time.Time        `firestore:"updatedAt"`
}

func fromUser(u domain.User) userDocument {
	return userDocument{
		Locale:             strings.TrimSpace(u.Locale),
		Country:            strings.ToUpper(strings.TrimSpace(u.Country)),
		LastBillingAddress: fromAddress(u.LastBillingAddress),
		LastContact:        fromContact(u.LastContact),
		UpdatedAt:          u.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:                 id,
		Locale:             d.Locale,
		Country:            d.Country,
		LastBillingAddress: d.LastBillingAddress.toDomain(),
		LastContact:        d.LastContact.toDomain(),
		UpdatedAt:          d.UpdatedAt,
	}
}
