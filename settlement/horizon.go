package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHorizonTimeout = 30 * time.Second

// HorizonClient submits transactions to a Stellar Horizon instance and polls
// their status. It implements Client.
type HorizonClient struct {
	baseURL string
	http    *http.Client
}

// NewHorizonClient creates a client for the given Horizon base URL. A nil
// httpClient gets a default with a 30s timeout.
func NewHorizonClient(baseURL string, httpClient *http.Client) *HorizonClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHorizonTimeout}
	}
	return &HorizonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type horizonTxResponse struct {
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
}

type horizonErrorResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// Submit posts a base64 transaction envelope to /transactions. A 2xx reply
// is a success receipt; a 4xx reply is a definitive rejection; everything
// else is transient.
func (c *HorizonClient) Submit(ctx context.Context, signedTx string) (*Receipt, error) {
	form := url.Values{"tx": {signedTx}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var tx horizonTxResponse
		if err := json.Unmarshal(body, &tx); err != nil {
			return nil, fmt.Errorf("%w: malformed submit response: %v", ErrUnavailable, err)
		}
		if !tx.Successful {
			return nil, fmt.Errorf("%w: transaction not successful", ErrRejected)
		}
		return &Receipt{TxRef: tx.Hash, Status: StatusSucceeded, Ledger: tx.Ledger}, nil
	case resp.StatusCode == http.StatusGatewayTimeout:
		// Horizon returns 504 when the transaction may still be included.
		return nil, fmt.Errorf("%w: horizon timeout", ErrUnavailable)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var herr horizonErrorResponse
		_ = json.Unmarshal(body, &herr)
		return nil, fmt.Errorf("%w: %s (%d)", ErrRejected, herr.Title, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// QueryStatus reads /transactions/{ref}. A 404 means the rail has not
// ingested the transaction yet and maps to pending.
func (c *HorizonClient) QueryStatus(ctx context.Context, txRef string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transactions/"+url.PathEscape(txRef), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return StatusPending, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var tx horizonTxResponse
		if err := json.Unmarshal(body, &tx); err != nil {
			return "", fmt.Errorf("%w: malformed status response: %v", ErrUnavailable, err)
		}
		if tx.Successful {
			return StatusSucceeded, nil
		}
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
