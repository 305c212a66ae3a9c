package relation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// rejectionCodeNoRelation is returned by the registry while a customer
// relation has not been established yet. It is retryable: the metering
// point is skipped this cycle and picked up again on the next tick.
const rejectionCodeNoRelation = "LMC-001"

// Status classifies the outcome of a relation check
type Status int

const (
	// StatusEligible means a relation exists and covers the period start
	StatusEligible Status = iota
	// StatusNotYetRelated means the relation is not established yet (retryable, non-fatal)
	StatusNotYetRelated
	// StatusRejected means the registry rejected the metering point for
	// any other reason; fatal for this cycle and surfaced as an error condition
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusEligible:
		return "eligible"
	case StatusNotYetRelated:
		return "not_yet_related"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of a relation check
type Result struct {
	Status Status
	Reason string
}

// CustomerRelation mirrors the registry's relation entry
type CustomerRelation struct {
	MeteringPointID string    `json:"meteringPointId"`
	ValidFromDate   time.Time `json:"validFromDate"`
}

// Rejection mirrors the registry's rejection entry
type Rejection struct {
	MeteringPointID  string `json:"meteringPointId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDetailName  string `json:"errorDetailName"`
	ErrorDetailValue string `json:"errorDetailValue"`
}

type relationRequest struct {
	Owner            string   `json:"owner"`
	MeteringPointIDs []string `json:"meteringPointIds"`
}

type relationResponse struct {
	Relations  []CustomerRelation `json:"relations"`
	Rejections []Rejection        `json:"rejections"`
}

// Client calls the external customer-relation registry
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new relation registry client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Validate checks whether gsrn is related to owner for the given period.
// Transport and decode failures are returned as an error; the caller
// treats them the same as a rejection (skip, counted as an error
// condition, retried next cycle).
func (c *Client) Validate(ctx context.Context, owner, gsrn string, period periodclock.Period) (Result, error) {
	resp, err := c.query(ctx, owner, gsrn)
	if err != nil {
		return Result{Status: StatusRejected, Reason: err.Error()}, err
	}

	for _, rejection := range resp.Rejections {
		if rejection.MeteringPointID != gsrn {
			continue
		}
		if rejection.ErrorCode == rejectionCodeNoRelation {
			return Result{Status: StatusNotYetRelated}, nil
		}
		return Result{
			Status: StatusRejected,
			Reason: fmt.Sprintf("registry rejection %s (%s=%s)", rejection.ErrorCode, rejection.ErrorDetailName, rejection.ErrorDetailValue),
		}, nil
	}

	for _, rel := range resp.Relations {
		if rel.MeteringPointID != gsrn {
			continue
		}
		// Eligible iff the relation covers the period start. A relation
		// starting later is not established for this period yet.
		if !rel.ValidFromDate.After(period.From) {
			return Result{Status: StatusEligible}, nil
		}
		return Result{Status: StatusNotYetRelated}, nil
	}

	return Result{
		Status: StatusRejected,
		Reason: fmt.Sprintf("registry returned no answer for metering point %s", gsrn),
	}, nil
}

func (c *Client) query(ctx context.Context, owner, gsrn string) (*relationResponse, error) {
	body, err := json.Marshal(relationRequest{Owner: owner, MeteringPointIDs: []string{gsrn}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/customer-relations/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build relation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relation registry call failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relation registry returned status %d", httpResp.StatusCode)
	}

	var resp relationResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode relation response: %w", err)
	}

	return &resp, nil
}
