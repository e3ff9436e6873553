package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/discounts"
	"github.com/hanko-field/commerce/internal/documents"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
	"github.com/hanko-field/commerce/internal/subscriptions"
	"github.com/hanko-field/commerce/internal/warehousing"
)

const invoiceDueDays = 14

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	Discounts  services.DiscountService
	Payments   services.PaymentService
	Deliveries services.DeliveryService
	Profiles   *services.UserProfileRecorder
}

// Infrastructure carries the clients that cannot be built from configuration alone. Dispatcher
// is required; a nil WorkQueue or DocumentWriter disables the matching feature.
type Infrastructure struct {
	Dispatcher     delivery.Dispatcher
	WorkQueue      services.WorkQueue
	DocumentWriter documents.ObjectWriter
	Meter          metric.Meter
	Logger         *zap.Logger
	Clock          func() time.Time
	// StripeProvider overrides the provider built from the PSP settings.
	StripeProvider payments.Provider
}

// Container wires repositories, providers and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      observability.CheckoutMetrics
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Dispatcher == nil {
		return nil, errors.New("delivery dispatcher is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	metrics, err := observability.NewCheckoutMetrics(infra.Meter)
	if err != nil {
		return nil, fmt.Errorf("build checkout metrics: %w", err)
	}

	svc, err := buildServices(ctx, cfg, reg, infra, metrics)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Metrics:      metrics,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure, metrics observability.CheckoutMetrics) (Services, error) {
	clock := infra.Clock
	eventLogger := observability.EventLogger(infra.Logger.Named("checkout"))

	directors, err := rules.NewDirectors(rules.DefaultTaxTable(), rules.Extensions{},
		pricing.WithLogger(eventLogger),
		pricing.WithFailureCounter(metrics.AdapterFailures),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build pricing directors: %w", err)
	}

	discountDirector, err := buildDiscountDirector(cfg.Discounts, reg, clock, eventLogger)
	if err != nil {
		return Services{}, fmt.Errorf("build discount director: %w", err)
	}

	paymentReg, err := buildPaymentRegistry(cfg.PSP, infra, eventLogger)
	if err != nil {
		return Services{}, fmt.Errorf("build payment providers: %w", err)
	}

	shipping, err := delivery.NewShippingProvider(delivery.ShippingConfig{
		Dispatcher:    infra.Dispatcher,
		ManualRelease: cfg.Delivery.ShippingManualRelease,
		Countries:     cfg.Delivery.ShippingCountries,
		Fee:           rules.Fee{Amount: cfg.Delivery.ShippingFee, IsTaxable: true},
		Clock:         clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping provider: %w", err)
	}
	deliveryReg, err := delivery.NewRegistry(shipping)
	if err != nil {
		return Services{}, fmt.Errorf("build delivery providers: %w", err)
	}

	stock, err := warehousing.NewStockProvider(reg.Stock(), clock)
	if err != nil {
		return Services{}, fmt.Errorf("build stock provider: %w", err)
	}
	warehouses, err := warehousing.NewRegistry(stock)
	if err != nil {
		return Services{}, fmt.Errorf("build warehousing: %w", err)
	}

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts:    reg.Discounts(),
		Director:     discountDirector,
		Clock:        clock,
		GrabOutcomes: metrics.GrabOutcomes,
		Logger:       eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments: reg.Payments(),
		Registry: paymentReg,
		Clock:    clock,
		Logger:   eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	deliverySvc, err := services.NewDeliveryService(services.DeliveryServiceDeps{
		Deliveries: reg.Deliveries(),
		Registry:   deliveryReg,
		Clock:      clock,
		Logger:     eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build delivery service: %w", err)
	}

	var generator services.DocumentGenerator
	if infra.DocumentWriter != nil {
		generator, err = documents.NewStorageGenerator(documents.Config{
			Writer:    infra.DocumentWriter,
			Documents: reg.Documents(),
			Locale:    cfg.Storage.DocumentLocale,
			Clock:     clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build document generator: %w", err)
		}
	}

	subs, err := subscriptions.NewGenerator(reg.Subscriptions(), clock)
	if err != nil {
		return Services{}, fmt.Errorf("build subscription generator: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Positions:     reg.Positions(),
		Discounts:     reg.Discounts(),
		Payments:      reg.Payments(),
		Deliveries:    reg.Deliveries(),
		Products:      reg.Products(),
		Quotations:    reg.Quotations(),
		Users:         reg.Users(),
		Counters:      reg.Counters(),
		UnitOfWork:    reg,
		DiscountFlow:  discountSvc,
		PaymentFlow:   paymentSvc,
		DeliveryFlow:  deliverySvc,
		Pricing:       directors,
		PaymentReg:    paymentReg,
		DeliveryReg:   deliveryReg,
		Warehousing:   warehouses,
		Documents:     generator,
		Subscriptions: subs,
		WorkQueue:     infra.WorkQueue,
		Countries:     services.CountryDirectory{DefaultCountry: cfg.Checkout.DefaultCountry},
		Settings: services.CheckoutSettings{
			AutoConfirm:         cfg.Checkout.AutoConfirm,
			AutoFulfill:         cfg.Checkout.AutoFulfill,
			OrderNumberPrefix:   cfg.Checkout.OrderNumberPrefix,
			ConfirmationRetries: cfg.Checkout.ConfirmationRetries,
		},
		Transitions: metrics.Transitions,
		Clock:       clock,
		Logger:      eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	profiles, err := services.NewUserProfileRecorder(reg.Users(), clock)
	if err != nil {
		return Services{}, fmt.Errorf("build profile recorder: %w", err)
	}

	return Services{
		Orders:     orderSvc,
		Discounts:  discountSvc,
		Payments:   paymentSvc,
		Deliveries: deliverySvc,
		Profiles:   profiles,
	}, nil
}

func buildDiscountDirector(cfg config.DiscountConfig, reg repositories.Registry, clock func() time.Time, logger func(context.Context, string, map[string]any)) (*discounts.Director, error) {
	coupons := make([]discounts.Coupon, 0, len(cfg.Coupons))
	for _, coupon := range cfg.Coupons {
		coupons = append(coupons, discounts.Coupon{Code: coupon.Code, Rate: coupon.Rate})
	}
	adapters := []discounts.Adapter{
		discounts.NewCouponAdapter(coupons, reg.Coupons(), clock),
		discounts.VoucherAdapter{Amounts: cfg.VoucherAmounts},
	}
	if len(cfg.ThresholdAmounts) > 0 && cfg.ThresholdRate.IsPositive() {
		adapters = append(adapters, discounts.ThresholdAdapter{Thresholds: cfg.ThresholdAmounts, Rate: cfg.ThresholdRate})
	}
	return discounts.NewDirector(logger, adapters...)
}

// buildPaymentRegistry registers Stripe when an API key is configured and always offers invoices.
func buildPaymentRegistry(cfg config.PSPConfig, infra Infrastructure, logger func(context.Context, string, map[string]any)) (*payments.Registry, error) {
	providers := make([]payments.Provider, 0, 2)
	switch {
	case infra.StripeProvider != nil:
		providers = append(providers, infra.StripeProvider)
	case strings.TrimSpace(cfg.StripeAPIKey) != "":
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.StripeAPIKey,
			Currencies: cfg.StripeCurrencies,
			Fee:        rules.Fee{Amount: cfg.StripeFee, IsTaxable: true},
			Logger:     logger,
			Clock:      infra.Clock,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, stripe)
	}
	providers = append(providers, payments.InvoiceProvider{DueDays: invoiceDueDays})

	var opts []payments.RegistryOption
	for _, provider := range providers {
		if strings.EqualFold(provider.Key(), strings.TrimSpace(cfg.DefaultProvider)) {
			opts = append(opts, payments.WithDefaultProvider(provider.Key()))
		}
	}
	return payments.NewRegistry(providers, opts...)
}
