package settlement

import (
	"context"
	"sync"
	"sync/atomic"
)

// StaticClient is a scriptable Client for tests. Submit pops responses in
// order; once the script runs out it repeats the last entry.
type StaticClient struct {
	mu        sync.Mutex
	responses []StaticResponse
	statuses  map[string]Status

	submits atomic.Int64
	queries atomic.Int64
}

// StaticResponse is one scripted Submit reply.
type StaticResponse struct {
	Receipt *Receipt
	Err     error
}

// NewStaticClient creates a client that replies with the given script.
func NewStaticClient(responses ...StaticResponse) *StaticClient {
	return &StaticClient{
		responses: responses,
		statuses:  make(map[string]Status),
	}
}

// SetStatus scripts a QueryStatus reply for a transaction reference.
func (c *StaticClient) SetStatus(txRef string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[txRef] = status
}

// Submit pops the next scripted response.
func (c *StaticClient) Submit(ctx context.Context, signedTx string) (*Receipt, error) {
	n := c.submits.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return &Receipt{TxRef: "static-tx", Status: StatusSucceeded}, nil
	}
	idx := int(n) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	r := c.responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Receipt, nil
}

// QueryStatus returns the scripted status, defaulting to pending.
func (c *StaticClient) QueryStatus(ctx context.Context, txRef string) (Status, error) {
	c.queries.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.statuses[txRef]; ok {
		return s, nil
	}
	return StatusPending, nil
}

// Submits reports how many Submit calls were made.
func (c *StaticClient) Submits() int64 { return c.submits.Load() }

// Queries reports how many QueryStatus calls were made.
func (c *StaticClient) Queries() int64 { return c.queries.Load() }
