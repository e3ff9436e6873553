package documents

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/services"
)

var titles = map[string]string{
	TypeOrderConfirmation: "Order confirmation",
	TypeDeliveryNote:      "Delivery note",
	TypeInvoice:           "Invoice",
	TypeReceipt:           "Receipt",
}

const documentTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Title}} {{.OrderNumber}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Order {{.OrderNumber}} &middot; {{.Date}}</p>
{{with .Billing}}<address>{{.Recipient}}<br>{{.Line1}}<br>{{.PostalCode}} {{.City}}<br>{{.Country}}</address>{{end}}
<table>
<thead><tr><th>Item</th><th>Qty</th>{{if .ShowPrices}}<th>Amount</th>{{end}}</tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Product}}</td><td>{{.Quantity}}</td>{{if $.ShowPrices}}<td>{{.Amount}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
{{if .ShowPrices}}<table class="totals">
{{range .Totals}}<tr><th>{{.Label}}</th><td>{{.Amount}}</td></tr>
{{end}}</table>{{end}}
{{with .Payment}}<p>Payment: {{.}}</p>{{end}}
</body>
</html>
`

type renderer struct {
	tmpl    *template.Template
	lang    language.Tag
	printer *message.Printer
}

type documentLine struct {
	Product  string
	Quantity int
	Amount   string
}

type totalLine struct {
	Label  string
	Amount string
}

type documentView struct {
	Lang        string
	Title       string
	OrderNumber string
	Date        string
	Billing     *domain.Address
	ShowPrices  bool
	Lines       []documentLine
	Totals      []totalLine
	Payment     string
}

func newRenderer(locale string) (*renderer, error) {
	tag := language.Japanese
	if strings.TrimSpace(locale) != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("documents: locale %q: %w", locale, err)
		}
		tag = parsed
	}
	tmpl, err := template.New("document").Parse(documentTemplate)
	if err != nil {
		return nil, fmt.Errorf("documents: parse template: %w", err)
	}
	return &renderer{tmpl: tmpl, lang: tag, printer: message.NewPrinter(tag)}, nil
}

func (r *renderer) render(w io.Writer, docType string, req services.DocumentRequest) error {
	order := req.Order
	date := req.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	view := documentView{
		Lang:        r.lang.String(),
		Title:       titles[docType],
		OrderNumber: order.OrderNumber,
		Date:        date.Format("2006-01-02"),
		Billing:     order.BillingAddress,
		ShowPrices:  docType != TypeDeliveryNote,
	}
	for _, position := range req.Positions {
		sheet := pricing.NewSheet(order.Currency, position.Calculation)
		view.Lines = append(view.Lines, documentLine{
			Product:  position.ProductID,
			Quantity: position.Quantity,
			Amount:   r.money(sheet.Total(pricing.TotalOptions{})),
		})
	}

	sheet := pricing.NewSheet(order.Currency, order.Calculation)
	for _, row := range []struct {
		label    string
		category domain.PricingCategory
	}{
		{"Items", domain.PricingCategoryItems},
		{"Discounts", domain.PricingCategoryDiscounts},
		{"Delivery", domain.PricingCategoryDelivery},
		{"Payment fee", domain.PricingCategoryPayment},
		{"Tax", domain.PricingCategoryTaxes},
	} {
		price := sheet.Total(pricing.TotalOptions{Category: row.category})
		if price.Amount == 0 && row.category != domain.PricingCategoryItems {
			continue
		}
		view.Totals = append(view.Totals, totalLine{Label: row.label, Amount: r.money(price)})
	}
	view.Totals = append(view.Totals, totalLine{Label: "Total", Amount: r.money(sheet.Total(pricing.TotalOptions{}))})

	if req.Payment != nil {
		view.Payment = fmt.Sprintf("%s (%s)", req.Payment.PaymentProviderID, req.Payment.CurrentStatus())
	}
	return r.tmpl.Execute(w, view)
}

// money formats minor units with the currency symbol and scale of the locale.
func (r *renderer) money(price pricing.Price) string {
	unit, err := currency.ParseISO(price.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", price.Amount, price.Currency)
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := decimal.New(price.Amount, -int32(scale))
	return r.printer.Sprint(currency.Symbol(unit.Amount(value.InexactFloat64())))
}
