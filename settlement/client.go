package settlement

import (
	"context"
	"errors"
)

// Status of a settlement transaction on the rail.
type Status string

// Settlement states. A transaction is Pending until the rail reports it
// either Succeeded or Failed; both final states are terminal.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "success"
	StatusFailed    Status = "failed"
)

// Receipt is the rail's acknowledgement of a submitted transaction.
type Receipt struct {
	TxRef  string
	Status Status
	Ledger int64
}

var (
	// ErrRejected marks a definitive rejection by the rail. Retrying the
	// same transaction cannot succeed.
	ErrRejected = errors.New("settlement transaction rejected")
	// ErrUnavailable marks a transient rail failure worth retrying.
	ErrUnavailable = errors.New("settlement rail unavailable")
)

// Client is the purchase processor's view of the payment rail.
type Client interface {
	// Submit sends a signed transaction to the rail and returns its receipt.
	Submit(ctx context.Context, signedTx string) (*Receipt, error)
	// QueryStatus reports the current state of an already submitted
	// transaction.
	QueryStatus(ctx context.Context, txRef string) (Status, error)
}
