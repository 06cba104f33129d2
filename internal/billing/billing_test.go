package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123", r.URL.Path)
		assert.Equal(t, "Bearer mp-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"id": 123,
			"status": "approved",
			"transaction_amount": 49.9,
			"point_of_interaction": {"transaction_data": {"subscription_id": "pre-1"}}
		}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, "mp-token").GetPayment(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", p.TransactionID())
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "49.90", p.Amount())
	assert.Equal(t, "pre-1", p.PreapprovalID())
}

func TestGetPayment_SubPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sandbox/v1/payments/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 7, "status": "pending", "metadata": {"preapproval_id": "pre-7"}}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL+"/sandbox/", "mp-token").GetPayment(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "pre-7", p.PreapprovalID())
}

func TestPaymentPreapprovalFromMetadata(t *testing.T) {
	p := Payment{Metadata: map[string]any{"preapproval_id": "pre-2"}}
	assert.Equal(t, "pre-2", p.PreapprovalID())
	assert.Empty(t, (&Payment{}).PreapprovalID())
}

func TestGetPreapproval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/preapproval/pre-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "pre-1",
			"status": "authorized",
			"external_reference": "owner-1",
			"next_payment_date": "2026-11-15T10:00:00.000-03:00"
		}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, "mp-token").GetPreapproval(context.Background(), "pre-1")
	require.NoError(t, err)
	assert.Equal(t, "authorized", p.Status)
	assert.Equal(t, "owner-1", p.ExternalReference)
	require.NotNil(t, p.NextPaymentDate)
	assert.Equal(t, 2026, p.NextPaymentDate.Year())
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "mp-token").GetPayment(context.Background(), "1")
	assert.ErrorContains(t, err, "get payment 1")

	_, err = NewClient(srv.URL, "mp-token").GetPreapproval(context.Background(), "pre-1")
	assert.ErrorContains(t, err, "get preapproval pre-1")

	_, err = NewClient(srv.URL, "mp-token").GetPayment(context.Background(), "abc")
	assert.ErrorContains(t, err, "not numeric")

	_, err = NewClient(srv.URL, "").GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseNotification(t *testing.T) {
	n := ParseNotification(url.Values{}, []byte(`{"type":"payment","data":{"id":"123"}}`))
	assert.Equal(t, Notification{Type: TypePayment, DataID: "123"}, n)

	n = ParseNotification(url.Values{}, []byte(`{"type":"payment","data":{"id":456}}`))
	assert.Equal(t, "456", n.DataID)

	n = ParseNotification(url.Values{"topic": {"preapproval"}, "id": {"pre-9"}}, nil)
	assert.Equal(t, Notification{Type: TypePreapproval, DataID: "pre-9"}, n)

	n = ParseNotification(url.Values{}, []byte(`{"type":"subscription_preapproval","data":{"id":"pre-1"}}`))
	assert.Equal(t, TypePreapproval, n.Type)
	assert.Equal(t, "preapproval:pre-1", n.Key())
}

func TestVerifySignature(t *testing.T) {
	header := Sign("whsec", "req-1", "ABC123", "1704908010")

	require.NoError(t, VerifySignature("whsec", header, "req-1", "ABC123"))
	assert.ErrorIs(t, VerifySignature("other", header, "req-1", "ABC123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", header, "req-2", "ABC123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", "v1=deadbeef", "req-1", "ABC123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", "ts=1,v1=zz", "req-1", "ABC123"), ErrInvalidSignature)
}
