package issuance

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gridcert/issuance-worker/internal/window"
)

type requestKey struct {
	gsrn string
	from int64
	to   int64
}

// MemoryLedger is an in-memory ledger used in tests. It pairs with a
// window.MemoryStore so commits advance the cursor like the real thing.
type MemoryLedger struct {
	mu         sync.Mutex
	windows    *window.MemoryStore
	requests   map[requestKey]StoredRequest
	order      []uuid.UUID
	claimed    map[uuid.UUID]bool
	dispatched map[uuid.UUID]bool
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger(windows *window.MemoryStore) *MemoryLedger {
	return &MemoryLedger{
		windows:    windows,
		requests:   make(map[requestKey]StoredRequest),
		claimed:    make(map[uuid.UUID]bool),
		dispatched: make(map[uuid.UUID]bool),
	}
}

// Commit records the request and advances the cursor
func (l *MemoryLedger) Commit(ctx context.Context, req Request) (CommitResult, error) {
	l.mu.Lock()
	key := requestKey{gsrn: req.GSRN, from: req.Period.From.Unix(), to: req.Period.To.Unix()}
	_, duplicate := l.requests[key]
	if !duplicate {
		stored := StoredRequest{
			ID:       uuid.New(),
			GSRN:     req.GSRN,
			Period:   req.Period,
			Quantity: req.Quantity,
			Quality:  req.Quality,
		}
		l.requests[key] = stored
		l.order = append(l.order, stored.ID)
	}
	l.mu.Unlock()

	if err := l.windows.Advance(ctx, req.GSRN, req.Period.To); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Duplicate: duplicate}, nil
}

// ClaimPending claims up to limit undispatched requests, oldest first
func (l *MemoryLedger) ClaimPending(_ context.Context, limit int) ([]StoredRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byID := make(map[uuid.UUID]StoredRequest, len(l.requests))
	for _, req := range l.requests {
		byID[req.ID] = req
	}

	var claimed []StoredRequest
	for _, id := range l.order {
		if l.dispatched[id] || l.claimed[id] {
			continue
		}
		l.claimed[id] = true
		claimed = append(claimed, byID[id])
		if len(claimed) == limit {
			break
		}
	}
	return claimed, nil
}

// MarkDispatched marks a claimed request as handed to the registry
// command channel
func (l *MemoryLedger) MarkDispatched(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.claimed[id] {
		return fmt.Errorf("request %s is not claimed", id)
	}
	delete(l.claimed, id)
	l.dispatched[id] = true
	return nil
}

// Release hands a claimed request back so the next pass retries it
func (l *MemoryLedger) Release(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.claimed, id)
	return nil
}

// Pending returns the unclaimed, undispatched requests without claiming
// them, in commit order
func (l *MemoryLedger) Pending() []StoredRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	byID := make(map[uuid.UUID]StoredRequest, len(l.requests))
	for _, req := range l.requests {
		byID[req.ID] = req
	}

	var pending []StoredRequest
	for _, id := range l.order {
		if l.dispatched[id] || l.claimed[id] {
			continue
		}
		pending = append(pending, byID[id])
	}
	return pending
}

// Requests returns all committed requests, in commit order
func (l *MemoryLedger) Requests() []StoredRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	byID := make(map[uuid.UUID]StoredRequest, len(l.requests))
	for _, req := range l.requests {
		byID[req.ID] = req
	}

	out := make([]StoredRequest, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, byID[id])
	}
	return out
}
