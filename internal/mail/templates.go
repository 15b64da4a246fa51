package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/money"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/profile"
)

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html><body style="font-family: Helvetica, Arial, sans-serif; color: #1f2933;">
<p>Hi {{.ClientName}},</p>
<p>Please find your {{.Label}} <strong>{{.Number}}</strong> attached.</p>
<p>Total: <strong>{{.Total}}</strong>{{if .Balance}}<br>Balance due: <strong>{{.Balance}}</strong>{{end}}{{if .DueDate}}<br>{{.DueLabel}}: {{.DueDate}}{{end}}</p>
{{if .PaymentLink}}<p><a href="{{.PaymentLink}}">Pay online</a></p>{{end}}
<p>Thank you for your business.</p>
{{if .From}}<p>{{.From}}{{range .FromAddress}}<br>{{.}}{{end}}{{if .FromPhone}}<br>{{.FromPhone}}{{end}}</p>{{end}}
</body></html>`))

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html><body style="font-family: Helvetica, Arial, sans-serif; color: #1f2933;">
<p>Hi {{.ClientName}},</p>
<p>We received your payment of <strong>{{.Amount}}</strong> for invoice <strong>{{.Number}}</strong>.</p>
<p>{{if .Paid}}The invoice is now paid in full.{{else}}Remaining balance: <strong>{{.Balance}}</strong>.{{end}}</p>
<p>Thank you!</p>
{{if .From}}<p>{{.From}}</p>{{end}}
</body></html>`))

// Composer builds the customer-facing messages.
type Composer struct {
	format money.Formatter
}

// NewComposer formats amounts in the given currency.
func NewComposer(currencyCode string) Composer {
	return Composer{format: money.NewFormatter(currencyCode)}
}

// DocumentMessage builds the email that carries a quote or invoice PDF. business may be nil.
func (c Composer) DocumentMessage(doc *documents.Document, business *profile.Profile, recipient string, pdf []byte) (Message, error) {
	label := "quote"
	view := map[string]any{
		"ClientName": doc.ClientName,
		"Number":     doc.Number,
		"Total":      c.format.Format(doc.Total),
		"DueLabel":   "Valid until",
	}
	if business != nil {
		view["From"] = business.BusinessName
		view["FromAddress"] = business.AddressLines()
		view["FromPhone"] = business.Phone
	}
	if doc.IsInvoice() {
		label = "invoice"
		view["Balance"] = c.format.Format(doc.BalanceDue)
		view["DueLabel"] = "Due"
		view["PaymentLink"] = doc.PaymentLink
	}
	view["Label"] = label
	if doc.DueDate != nil && !doc.DueDate.IsZero() {
		view["DueDate"] = doc.DueDate.Format("January 2, 2006")
	}

	buf := &bytes.Buffer{}
	if err := documentTemplate.Execute(buf, view); err != nil {
		return Message{}, fmt.Errorf("mail: render %s email: %w", label, err)
	}
	return Message{
		To:      recipient,
		ReplyTo: replyTo(business),
		Subject: withSender(fmt.Sprintf("%s %s", titleFor(doc.Kind), doc.Number), business),
		HTML:    buf.String(),
		Attachments: []Attachment{{
			Filename:    doc.Number + ".pdf",
			ContentType: "application/pdf",
			Content:     pdf,
		}},
	}, nil
}

// ReceiptMessage builds the payment confirmation for a settled payment. business may be nil.
func (c Composer) ReceiptMessage(invoice *documents.Document, payment *payments.Payment, business *profile.Profile, recipient string) (Message, error) {
	view := map[string]any{
		"ClientName": invoice.ClientName,
		"Number":     invoice.Number,
		"Amount":     c.format.Format(payment.Amount),
		"Balance":    c.format.Format(invoice.BalanceDue),
		"Paid":       invoice.Status == documents.StatusPaid,
	}
	if business != nil {
		view["From"] = business.BusinessName
	}
	buf := &bytes.Buffer{}
	err := receiptTemplate.Execute(buf, view)
	if err != nil {
		return Message{}, fmt.Errorf("mail: render receipt: %w", err)
	}
	return Message{
		To:      recipient,
		ReplyTo: replyTo(business),
		Subject: withSender(fmt.Sprintf("Payment received for invoice %s", invoice.Number), business),
		HTML:    buf.String(),
	}, nil
}

func withSender(subject string, business *profile.Profile) string {
	if business == nil || business.BusinessName == "" {
		return subject
	}
	return subject + " from " + business.BusinessName
}

func replyTo(business *profile.Profile) string {
	if business == nil {
		return ""
	}
	return business.Email
}

func titleFor(kind documents.Kind) string {
	if kind == documents.KindInvoice {
		return "Invoice"
	}
	return "Quote"
}
