package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/buildledger/internal/payments"
)

func TestCheckoutClientCreateSession(t *testing.T) {
	invoiceID, ownerID := uuid.New(), uuid.New()
	var form map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_abc","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_abc"}`))
	}))
	defer srv.Close()

	c := NewCheckoutClient(CheckoutConfig{SecretKey: "sk_test_123", BaseURL: "https://app.example.com/", APIURL: srv.URL})
	session, err := c.CreateSession(context.Background(), payments.CheckoutRequest{
		InvoiceID:     invoiceID,
		OwnerID:       ownerID,
		InvoiceNumber: "INV-0001",
		ClientEmail:   "client@example.com",
		AmountMinor:   225500,
		Currency:      "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_abc", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_abc", session.URL)

	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "225500", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, invoiceID.String(), form["metadata[invoice_id]"])
	assert.Equal(t, ownerID.String(), form["metadata[owner_id]"])
	assert.Equal(t, invoiceID.String(), form["payment_intent_data[metadata][invoice_id]"])
	assert.Equal(t, ownerID.String(), form["payment_intent_data[metadata][owner_id]"])
	assert.Equal(t, "https://app.example.com/pay/"+invoiceID.String()+"/success", form["success_url"])
}

func TestCheckoutClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad amount"}}`))
	}))
	defer srv.Close()

	c := NewCheckoutClient(CheckoutConfig{SecretKey: "sk_test_123", APIURL: srv.URL})
	_, err := c.CreateSession(context.Background(), payments.CheckoutRequest{
		InvoiceID: uuid.New(), OwnerID: uuid.New(), AmountMinor: 1, Currency: "usd",
	})
	require.Error(t, err)
}
