// Package billing reads Mercado Pago payments and preapprovals and parses
// their webhook notifications.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
)

// DefaultAPIURL is the Mercado Pago API root.
const DefaultAPIURL = "https://api.mercadopago.com"

// ErrNotConfigured is returned when no access token is set.
var ErrNotConfigured = errors.New("billing access token not configured")

// Client reads payments and preapprovals from Mercado Pago.
type Client struct {
	accessToken  string
	payments     payment.Client
	preapprovals preapproval.Client
}

// NewClient creates a Client. A baseURL other than DefaultAPIURL redirects
// every SDK call to that host, which is how sandboxes and tests plug in.
func NewClient(baseURL, accessToken string) *Client {
	c := &Client{accessToken: accessToken}
	if accessToken == "" {
		return c
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	if target, err := url.Parse(strings.TrimSuffix(baseURL, "/")); err == nil && baseURL != "" && baseURL != DefaultAPIURL {
		httpClient.Transport = &rebaseTransport{target: target, next: http.DefaultTransport}
	}

	cfg, err := config.New(accessToken, config.WithHTTPClient(httpClient))
	if err != nil {
		c.accessToken = ""
		return c
	}
	c.payments = payment.NewClient(cfg)
	c.preapprovals = preapproval.NewClient(cfg)
	return c
}

// Configured reports whether the client can call the API.
func (c *Client) Configured() bool {
	return c.accessToken != ""
}

// Payment is the projection of a Mercado Pago payment the reconciler consumes.
type Payment struct {
	ID                int64
	Status            string
	TransactionAmount float64
	ExternalReference string
	Metadata          map[string]any
	SubscriptionID    string
}

// TransactionID is the payment id as stored locally.
func (p *Payment) TransactionID() string {
	return strconv.FormatInt(p.ID, 10)
}

// Amount renders the charged amount as decimal text.
func (p *Payment) Amount() string {
	return strconv.FormatFloat(p.TransactionAmount, 'f', 2, 64)
}

// PreapprovalID returns the subscription a recurring charge belongs to, if any.
func (p *Payment) PreapprovalID() string {
	if p.SubscriptionID != "" {
		return p.SubscriptionID
	}
	if id, ok := p.Metadata["preapproval_id"].(string); ok {
		return id
	}
	return ""
}

// Preapproval is the projection of a subscription authorization.
type Preapproval struct {
	ID                string
	Status            string
	ExternalReference string
	Reason            string
	NextPaymentDate   *time.Time
}

// GetPayment fetches one payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: id is not numeric", id)
	}

	res, err := c.payments.Get(ctx, numericID)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return &Payment{
		ID:                int64(res.ID),
		Status:            res.Status,
		TransactionAmount: res.TransactionAmount,
		ExternalReference: res.ExternalReference,
		Metadata:          res.Metadata,
		SubscriptionID:    res.PointOfInteraction.TransactionData.SubscriptionID,
	}, nil
}

// GetPreapproval fetches one subscription authorization.
func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	res, err := c.preapprovals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get preapproval %s: %w", id, err)
	}
	return &Preapproval{
		ID:                res.ID,
		Status:            res.Status,
		ExternalReference: res.ExternalReference,
		Reason:            res.Reason,
		NextPaymentDate:   optionalTime(res.NextPaymentDate),
	}, nil
}

// optionalTime normalizes an SDK date field, dropping the zero value.
func optionalTime(v any) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		if t != nil && !t.IsZero() {
			return t
		}
	case time.Time:
		if !t.IsZero() {
			return &t
		}
	}
	return nil
}

// rebaseTransport sends SDK requests to another scheme and host.
type rebaseTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (t *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.URL.Path = t.target.Path + req.URL.Path
	out.Host = ""
	return t.next.RoundTrip(out)
}
