package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// OrderContext carries the sale order fields available to order templates.
type OrderContext struct {
	Name           string     `json:"name"`
	PartnerName    string     `json:"partnerName"`
	PartnerMobile  string     `json:"partnerMobile"`
	PartnerPhone   string     `json:"partnerPhone"`
	CountryCode    string     `json:"countryCode"`
	AmountTotal    float64    `json:"amountTotal"`
	CurrencySymbol string     `json:"currencySymbol"`
	DateOrder      *time.Time `json:"dateOrder"`
	UserName       string     `json:"userName"`
	CompanyName    string     `json:"companyName"`
	StateLabel     string     `json:"stateLabel"`
	ProductNames   []string   `json:"productNames"`
}

// Number prefers the partner mobile over the landline.
func (o OrderContext) Number() string {
	return firstNonBlank(o.PartnerMobile, o.PartnerPhone)
}

func (o OrderContext) TemplateContext() TemplateContext {
	date := ""
	if o.DateOrder != nil {
		date = o.DateOrder.Format("2006-01-02")
	}

	return TemplateContext{
		"partner_name":  firstNonBlank(o.PartnerName, "Customer"),
		"order_name":    o.Name,
		"amount_total":  amountPrinter.Sprintf("%.2f", o.AmountTotal),
		"date_order":    date,
		"user_name":     o.UserName,
		"company_name":  o.CompanyName,
		"order_state":   o.StateLabel,
		"product_names": summarizeProducts(o.ProductNames),
		"currency":      o.CurrencySymbol,
	}
}

// summarizeProducts lists the first three product names and counts the rest.
func summarizeProducts(names []string) string {
	var products []string
	for _, name := range names {
		if strings.TrimSpace(name) != "" {
			products = append(products, name)
		}
	}

	if len(products) == 0 {
		return "N/A"
	}

	if len(products) <= 3 {
		return strings.Join(products, ", ")
	}

	return fmt.Sprintf("%s and %d more", strings.Join(products[:3], ", "), len(products)-3)
}

// DeliveryContext carries the stock picking fields available to delivery templates.
// Carrier and TrackingRef are optional, not every installation tracks carriers.
type DeliveryContext struct {
	Name          string     `json:"name"`
	PartnerName   string     `json:"partnerName"`
	PartnerMobile string     `json:"partnerMobile"`
	PartnerPhone  string     `json:"partnerPhone"`
	CountryCode   string     `json:"countryCode"`
	Origin        string     `json:"origin"`
	Carrier       *string    `json:"carrier,omitempty"`
	TrackingRef   *string    `json:"trackingRef,omitempty"`
	CompanyName   string     `json:"companyName"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

func (d DeliveryContext) Number() string {
	return firstNonBlank(d.PartnerMobile, d.PartnerPhone)
}

func (d DeliveryContext) TemplateContext() TemplateContext {
	carrier := "Delivery Service"
	if d.Carrier != nil && strings.TrimSpace(*d.Carrier) != "" {
		carrier = *d.Carrier
	}

	tracking := "N/A"
	if d.TrackingRef != nil && strings.TrimSpace(*d.TrackingRef) != "" {
		tracking = *d.TrackingRef
	}

	date := ""
	if d.ScheduledDate != nil {
		date = d.ScheduledDate.Format("2006-01-02")
	}

	return TemplateContext{
		"partner_name":   firstNonBlank(d.PartnerName, "Customer"),
		"picking_name":   d.Name,
		"origin":         firstNonBlank(d.Origin, "N/A"),
		"carrier":        carrier,
		"tracking_ref":   tracking,
		"company_name":   d.CompanyName,
		"scheduled_date": date,
		"state":          "Done",
	}
}

// OrderSampleContext feeds previews of order templates.
func OrderSampleContext() TemplateContext {
	return TemplateContext{
		"partner_name":  "John Doe",
		"order_name":    "SO001",
		"amount_total":  "1,250.00",
		"date_order":    "2025-01-15",
		"user_name":     "Sales Manager",
		"company_name":  "Your Company",
		"order_state":   "Confirmed",
		"product_names": "Product A, Product B",
		"currency":      "$",
	}
}

// DeliverySampleContext feeds previews of delivery templates.
func DeliverySampleContext() TemplateContext {
	return TemplateContext{
		"partner_name":   "Jane Doe",
		"picking_name":   "WH/OUT/0001",
		"origin":         "SO001",
		"carrier":        "FedEx",
		"tracking_ref":   "1234567890",
		"company_name":   "My Company",
		"scheduled_date": "2025-01-20",
		"state":          "Done",
	}
}

// SampleContext returns the preview context for kind, empty for kinds that send the body as is.
func SampleContext(kind JobKind) TemplateContext {
	switch kind {
	case JobOrderConfirmation:
		return OrderSampleContext()
	case JobDeliveryConfirmation:
		return DeliverySampleContext()
	}

	return TemplateContext{}
}

// OrderSource loads order and delivery data from the host ERP.
type OrderSource interface {
	Order(ctx context.Context, ref string) (OrderContext, error)
	Delivery(ctx context.Context, ref string) (DeliveryContext, error)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
