package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// ErrUnavailable marks a transient failure of the measurement source.
// The period is skipped this cycle without advancing the cursor and
// retried on the next tick.
var ErrUnavailable = errors.New("measurement data unavailable")

// Reading is the measured energy for one period
type Reading struct {
	// Quantity in watt-hours
	Quantity uint64 `json:"quantity"`
	Quality  string `json:"quality"`
}

type measurementRequest struct {
	GSRN     string `json:"gsrn"`
	DateFrom int64  `json:"dateFrom"`
	DateTo   int64  `json:"dateTo"`
}

// Client fetches measured quantities from the external measurement source
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new measurement source client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Get fetches the measured quantity for gsrn over the given period.
// Transport errors and non-200 responses are wrapped in ErrUnavailable.
func (c *Client) Get(ctx context.Context, gsrn string, period periodclock.Period) (Reading, error) {
	body, err := json.Marshal(measurementRequest{
		GSRN:     gsrn,
		DateFrom: period.From.Unix(),
		DateTo:   period.To.Unix(),
	})
	if err != nil {
		return Reading{}, fmt.Errorf("failed to marshal measurement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/measurements/query", bytes.NewReader(body))
	if err != nil {
		return Reading{}, fmt.Errorf("failed to build measurement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("%w: status %d", ErrUnavailable, httpResp.StatusCode)
	}

	var reading Reading
	if err := json.NewDecoder(httpResp.Body).Decode(&reading); err != nil {
		return Reading{}, fmt.Errorf("failed to decode measurement response: %w", err)
	}

	return reading, nil
}
