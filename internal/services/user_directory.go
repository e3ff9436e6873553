package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/hanko-field/commerce/internal/repositories"
)

// CountryDirectory derives countries from locales and default currencies from countries.
type CountryDirectory struct {
	DefaultCountry  string
	DefaultCurrency string
}

// CountryForLocale returns the region of a BCP 47 locale. Locales without a region fall back
// to the most likely one ("ja" yields JP), and unparsable ones to the default country.
func (d CountryDirectory) CountryForLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return d.defaultCountry()
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return d.defaultCountry()
	}
	region, confidence := tag.Region()
	if confidence == language.No {
		return d.defaultCountry()
	}
	return region.String()
}

// CurrencyForCountry returns the ISO 4217 code in use in the country.
func (d CountryDirectory) CurrencyForCountry(country string) string {
	region, err := language.ParseRegion(strings.TrimSpace(country))
	if err == nil {
		if unit, ok := currency.FromRegion(region); ok {
			return unit.String()
		}
	}
	if d.DefaultCurrency != "" {
		return strings.ToUpper(d.DefaultCurrency)
	}
	return "JPY"
}

// NormalizeCountry upper-cases valid ISO 3166 codes and maps everything else to the default.
func (d CountryDirectory) NormalizeCountry(country string) string {
	region, err := language.ParseRegion(strings.TrimSpace(country))
	if err != nil || !region.IsCountry() {
		return d.defaultCountry()
	}
	return region.String()
}

func (d CountryDirectory) defaultCountry() string {
	if c := strings.ToUpper(strings.TrimSpace(d.DefaultCountry)); c != "" {
		return c
	}
	return "JP"
}

// UserProfileRecorder keeps the stored user locale in step with the identity token so carts
// created later pick the right country and currency.
type UserProfileRecorder struct {
	users repositories.UserRepository
	clock func() time.Time
}

// NewUserProfileRecorder builds a recorder over the user repository.
func NewUserProfileRecorder(users repositories.UserRepository, clock func() time.Time) (*UserProfileRecorder, error) {
	if users == nil {
		return nil, errors.New("user profile recorder: user repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &UserProfileRecorder{users: users, clock: func() time.Time { return clock().UTC() }}, nil
}

// RecordLocale creates the user on first sight and updates the locale when it changed.
func (r *UserProfileRecorder) RecordLocale(ctx context.Context, uid, locale string) error {
	uid = strings.TrimSpace(uid)
	locale = strings.TrimSpace(locale)
	if uid == "" || locale == "" {
		return nil
	}
	user, err := r.users.FindByID(ctx, uid)
	switch {
	case err == nil:
		if user.Locale == locale {
			return nil
		}
	case repositories.IsNotFound(err):
		user = User{ID: uid}
	default:
		return err
	}
	user.Locale = locale
	user.UpdatedAt = r.clock()
	return r.users.Save(ctx, user)
}
