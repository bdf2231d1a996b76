package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// Client talks to the marketplace booking API over HTTP. A nil Provider
// means the collaborator is not configured in this deployment; callers
// skip the booking check in that case.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns nil when addr is empty, mirroring a disabled provider.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: timeout,
	}
}

type bookingItem struct {
	BookingID  string `json:"booking_id"`
	ProviderID string `json:"provider_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Status     string `json:"status"`
}

func (c *Client) ListBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("provider_id", providerID)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("status", "confirmed")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/bookings?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("booking store returned status %d", resp.StatusCode)
	}

	var items []bookingItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode booking list: %w", err)
	}

	bookings := make([]model.Booking, 0, len(items))
	for _, it := range items {
		if it.Status != "confirmed" {
			continue
		}
		start, err := time.Parse(time.RFC3339, it.StartTime)
		if err != nil {
			return nil, fmt.Errorf("booking %s: invalid start_time: %w", it.BookingID, err)
		}
		end, err := time.Parse(time.RFC3339, it.EndTime)
		if err != nil {
			return nil, fmt.Errorf("booking %s: invalid end_time: %w", it.BookingID, err)
		}
		bookings = append(bookings, model.Booking{
			ID:         it.BookingID,
			ProviderID: it.ProviderID,
			StartTime:  start,
			EndTime:    end,
			Status:     it.Status,
		})
	}
	return bookings, nil
}
