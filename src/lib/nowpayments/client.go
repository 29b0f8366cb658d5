package nowpayments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

type Invoice struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	IPNCallbackURL   string  `json:"ipn_callback_url"`
	SuccessURL       string  `json:"success_url,omitempty"`
	CancelURL        string  `json:"cancel_url,omitempty"`
}

type InvoiceResult struct {
	ID         string
	InvoiceURL string
}

// CreateInvoice opens a hosted crypto invoice. OrderID round-trips through IPN callbacks.
func (c *Client) CreateInvoice(ctx context.Context, inv Invoice) (*InvoiceResult, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nowpayments invoice: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		log.Printf("[NOWPayments] invoice for %s failed (%d): %s\n", inv.OrderID, resp.StatusCode, string(raw))
		return nil, fmt.Errorf("nowpayments invoice: status %d: %s", resp.StatusCode, gjson.GetBytes(raw, "message").String())
	}
	result := gjson.ParseBytes(raw)
	id := result.Get("id").String()
	url := result.Get("invoice_url").String()
	if id == "" || url == "" {
		return nil, fmt.Errorf("nowpayments invoice: incomplete response")
	}
	return &InvoiceResult{ID: id, InvoiceURL: url}, nil
}
