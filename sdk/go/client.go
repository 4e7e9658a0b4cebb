package freightlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Freightline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Load represents the API load model (partial).
type Load struct {
	ID              string  `json:"id"`
	ShipperID       string  `json:"shipper_id"`
	Origin          string  `json:"origin"`
	Destination     string  `json:"destination"`
	WeightTons      float64 `json:"weight_tons"`
	Status          string  `json:"status"`
	Version         int     `json:"version"`
	AdminFinalPrice *int64  `json:"admin_final_price,omitempty"`
	AwardedBidID    *string `json:"awarded_bid_id,omitempty"`
}

// Bid represents a carrier offer.
type Bid struct {
	ID            string `json:"id"`
	LoadID        string `json:"load_id"`
	CarrierID     string `json:"carrier_id"`
	Amount        int64  `json:"amount"`
	CounterAmount *int64 `json:"counter_amount,omitempty"`
	Status        string `json:"status"`
	BidType       string `json:"bid_type"`
}

// BidResult pairs a bid with the load it touched.
type BidResult struct {
	Bid  Bid  `json:"bid"`
	Load Load `json:"load"`
}

// Invoice represents the billing document for an awarded load.
type Invoice struct {
	ID       string `json:"id"`
	LoadID   string `json:"load_id"`
	Status   string `json:"status"`
	Revision int    `json:"revision"`
	Total    int64  `json:"total"`
	Version  int    `json:"version"`
}

// Thread is the per-load negotiation summary.
type Thread struct {
	LoadID          string `json:"load_id"`
	TotalBids       int    `json:"total_bids"`
	RealBids        int    `json:"real_bids"`
	SimulatedBids   int    `json:"simulated_bids"`
	PendingCounters int    `json:"pending_counters"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitLoad creates a draft load.
func (c *Client) SubmitLoad(ctx context.Context, origin, destination string, weightTons float64) (Load, error) {
	body := map[string]any{
		"origin":      origin,
		"destination": destination,
		"weight_tons": weightTons,
	}
	var resp Load
	err := c.do(ctx, http.MethodPost, "v0/loads", body, &resp)
	return resp, err
}

// GetLoad fetches a load by id.
func (c *Client) GetLoad(ctx context.Context, id string) (Load, error) {
	var resp Load
	err := c.do(ctx, http.MethodGet, "v0/loads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// PlaceBid places a bid on a load.
func (c *Client) PlaceBid(ctx context.Context, loadID string, amount int64, notes string) (BidResult, error) {
	body := map[string]any{
		"amount": amount,
		"notes":  notes,
	}
	var resp BidResult
	endpoint := fmt.Sprintf("v0/loads/%s/bids", url.PathEscape(loadID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptBid accepts a bid and awards the load.
func (c *Client) AcceptBid(ctx context.Context, bidID string) (BidResult, error) {
	var resp BidResult
	endpoint := fmt.Sprintf("v0/bids/%s/accept", url.PathEscape(bidID))
	err := c.do(ctx, http.MethodPost, endpoint, struct{}{}, &resp)
	return resp, err
}

// GetThread returns the negotiation summary for a load.
func (c *Client) GetThread(ctx context.Context, loadID string) (Thread, error) {
	var resp struct {
		Thread Thread `json:"thread"`
	}
	endpoint := fmt.Sprintf("v0/loads/%s/thread", url.PathEscape(loadID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Thread, err
}

// CreateInvoice issues an invoice for an awarded load.
func (c *Client) CreateInvoice(ctx context.Context, loadID, idempotencyKey string, baseFreight int64) (Invoice, error) {
	body := map[string]any{
		"idempotency_key": idempotencyKey,
		"breakdown": map[string]any{
			"base_freight": baseFreight,
		},
	}
	var resp Invoice
	endpoint := fmt.Sprintf("v0/loads/%s/invoices", url.PathEscape(loadID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ConfirmPayment settles an invoice.
func (c *Client) ConfirmPayment(ctx context.Context, invoiceID string, amount int64, reference string) (Invoice, error) {
	body := map[string]any{
		"amount":    amount,
		"reference": reference,
	}
	var resp Invoice
	endpoint := fmt.Sprintf("v0/invoices/%s/pay", url.PathEscape(invoiceID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
