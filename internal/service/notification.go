package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	directVisitLabel    = "direct visit"
	defaultProductTitle = "Product"
	feedbackDateLayout  = "02.01.2006 15:04"
)

// BuildOrderNotification renders the operator mail for a priced order. order.Amount
// must already hold the computed total.
func BuildOrderNotification(
	order models.Order,
	attr models.Attribution,
	lines []models.PricedLine,
	meta models.RequestMeta,
	currency string,
) *models.Notification {
	adSource := order.AdSource
	if adSource == "" {
		adSource = directVisitLabel
	}

	var b strings.Builder
	b.WriteString("New order received:\n\n")
	fmt.Fprintf(&b, "Name: %s\n", order.Name)
	fmt.Fprintf(&b, "Phone: %s\n", order.Phone)
	fmt.Fprintf(&b, "Email: %s\n", order.Email)
	fmt.Fprintf(&b, "City: %s\n", order.City)
	fmt.Fprintf(&b, "Notes: %s\n", order.Notes)
	fmt.Fprintf(&b, "Ad source: %s\n", adSource)

	b.WriteString("\nUTM tags:\n")
	for _, key := range models.UTMKeys {
		fmt.Fprintf(&b, "%s: %s\n", key, attr[key])
	}
	for _, key := range models.ClickIDKeys {
		if v := attr[key]; v != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}
	if ref := attr[models.Referral]; ref != "" {
		fmt.Fprintf(&b, "%s: %s\n", models.Referral, ref)
	}

	fmt.Fprintf(&b, "\nUser agent: %s\n", meta.UserAgent)
	fmt.Fprintf(&b, "IP: %s\n", meta.ClientIP)
	fmt.Fprintf(&b, "Referer: %s\n", meta.Referer)

	b.WriteString("\nItems:\n")
	for _, line := range lines {
		title := line.Title
		if title == "" {
			title = defaultProductTitle
		}
		fmt.Fprintf(&b, "- %s: %d pcs x %s%s\n", title, line.Quantity, line.UnitPrice.String(), currency)
	}

	fmt.Fprintf(&b, "\nOrder total: %s%s", order.Amount.String(), currency)

	return &models.Notification{
		Subject: fmt.Sprintf("New order #%s", order.ID),
		Body:    b.String(),
	}
}

// BuildFeedbackNotification renders the operator mail for a callback or feedback request.
func BuildFeedbackNotification(id models.ItemID, req *models.SubmitFeedbackRequest, status string, created time.Time) *models.Notification {
	label := req.TypeLabel()

	var b strings.Builder
	fmt.Fprintf(&b, "New %s request received:\n\n", label)
	fmt.Fprintf(&b, "Name: %s\n", req.Name)
	fmt.Fprintf(&b, "Phone: %s\n", req.Phone)
	fmt.Fprintf(&b, "Request type: %s\n", label)
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Created: %s\n", created.Format(feedbackDateLayout))
	fmt.Fprintf(&b, "\nRequest ID: %s", id)

	return &models.Notification{
		Subject: fmt.Sprintf("New %s request #%s", label, id),
		Body:    b.String(),
	}
}
