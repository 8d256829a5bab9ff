package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/scg/incorporation-service/internal/domain"
)

var jurisdictionLabels = map[domain.Jurisdiction]string{
	domain.JurisdictionBVI:       "British Virgin Islands",
	domain.JurisdictionCayman:    "Cayman Islands",
	domain.JurisdictionPanama:    "Panama",
	domain.JurisdictionHongKong:  "Hong Kong",
	domain.JurisdictionSingapore: "Singapore",
}

// JurisdictionLabel returns the human readable name of a jurisdiction.
func JurisdictionLabel(j domain.Jurisdiction) string {
	if label, ok := jurisdictionLabels[j]; ok {
		return label
	}
	return string(j)
}

var paymentReminderTemplate = template.Must(template.New("payment_reminder").Parse(`<!doctype html>
<html>
  <body style="font-family: Arial, sans-serif; color: #1f2933;">
    <h2>Complete your payment</h2>
    <p>Your {{.Jurisdiction}} company application{{if .CompanyName}} for <strong>{{.CompanyName}}</strong>{{end}} has been received.</p>
    <p>Order reference: <strong>{{.OrderCode}}</strong></p>
    <p>To continue with the incorporation, please complete your payment:</p>
    <p><a href="{{.PricingURL}}" style="background:#0b5fff;color:#fff;padding:10px 18px;border-radius:4px;text-decoration:none;">Go to payment</a></p>
    <p>If the button does not work, copy this link into your browser:<br>{{.PricingURL}}</p>
  </body>
</html>`))

// PaymentReminder renders the "complete your payment" email for an order.
func PaymentReminder(order domain.Order, to, companyName, pricingURL string) (Message, error) {
	var body bytes.Buffer
	err := paymentReminderTemplate.Execute(&body, struct {
		Jurisdiction string
		CompanyName  string
		OrderCode    string
		PricingURL   string
	}{
		Jurisdiction: JurisdictionLabel(order.Jurisdiction),
		CompanyName:  companyName,
		OrderCode:    order.OrderCode,
		PricingURL:   pricingURL,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render payment reminder: %w", err)
	}

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Complete your payment for order %s", order.OrderCode),
		HTML:    body.String(),
	}, nil
}
