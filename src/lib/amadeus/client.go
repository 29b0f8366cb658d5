package amadeus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"thruster/src/types"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// APIError is a non-2xx response from the booking API.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amadeus: status %d %s: %s", e.Status, e.Code, e.Detail)
}

func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsPermanent reports a rejection the provider will repeat on retry. Transport
// failures and timeouts are not permanent.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

type BookRequest struct {
	OfferID   string
	Guests    []types.Guest
	ClientRef string
}

type Client struct {
	BaseURL string
	http    *http.Client
}

func NewClient(ctx context.Context, baseURL, clientID, clientSecret string) *Client {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     strings.TrimRight(baseURL, "/") + "/v1/security/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	hc := cc.Client(ctx)
	hc.Timeout = 30 * time.Second
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type guestName struct {
	Title     string `json:"title,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type guestContact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email"`
}

type guestPayload struct {
	ID      int          `json:"id"`
	Name    guestName    `json:"name"`
	Contact guestContact `json:"contact"`
}

func splitName(full string) guestName {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return guestName{}
	case 1:
		return guestName{FirstName: parts[0], LastName: parts[0]}
	}
	return guestName{FirstName: strings.Join(parts[:len(parts)-1], " "), LastName: parts[len(parts)-1]}
}

// Book places the hotel booking and returns the provider's booking id.
func (c *Client) Book(ctx context.Context, in BookRequest) (string, error) {
	guests := make([]guestPayload, 0, len(in.Guests))
	for i, g := range in.Guests {
		guests = append(guests, guestPayload{
			ID:      i + 1,
			Name:    splitName(g.Name),
			Contact: guestContact{Phone: g.Phone, Email: g.Email},
		})
	}
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"offerId": in.OfferID,
			"guests":  guests,
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/booking/hotel-bookings", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/vnd.amadeus+json")
	if in.ClientRef != "" {
		req.Header.Set("Idempotency-Key", in.ClientRef)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("amadeus book %s: %w", in.ClientRef, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			Status: resp.StatusCode,
			Code:   gjson.GetBytes(raw, "errors.0.code").String(),
			Detail: gjson.GetBytes(raw, "errors.0.detail").String(),
		}
		log.Printf("[Amadeus] booking %s rejected: %s\n", in.ClientRef, apiErr.Error())
		return "", apiErr
	}
	id := gjson.GetBytes(raw, "data.0.id").String()
	if id == "" {
		return "", &APIError{Status: resp.StatusCode, Code: "EMPTY_RESPONSE", Detail: "no booking id returned"}
	}
	return id, nil
}
