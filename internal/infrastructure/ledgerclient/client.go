// Package ledgerclient talks to the ledger relay over HTTP/JSON.
package ledgerclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"courseledger/internal/application/ledger"
	"courseledger/internal/infrastructure/httpjson"
)

var (
	broadcastPath = httpjson.Template("/operations")
	receiptPath   = httpjson.Template("/operations/{tx}")
	currentPath   = httpjson.Template("/subjects/{subject}/resources/{resource}")
)

type broadcastResponse struct {
	TxID string `json:"tx_id"`
}

// Client implements ledger.Client. Network errors, 429 and 5xx are
// transient; other 4xx responses are rejections.
type Client struct {
	http *httpjson.Client
}

var _ ledger.Client = (*Client)(nil)

func New(cfg httpjson.Config) *Client {
	return &Client{http: httpjson.New(cfg)}
}

func (c *Client) Broadcast(ctx context.Context, op ledger.Operation) (string, error) {
	var resp broadcastResponse
	if err := c.http.Do(ctx, http.MethodPost, broadcastPath, nil, op, &resp); err != nil {
		return "", classify(err)
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("%w: broadcast response without tx id", ledger.ErrTransient)
	}
	return resp.TxID, nil
}

func (c *Client) Receipt(ctx context.Context, txID string) (ledger.Receipt, error) {
	var r ledger.Receipt
	err := c.http.Do(ctx, http.MethodGet, receiptPath, map[string]interface{}{"tx": txID}, nil, &r)
	if err != nil {
		var se *httpjson.StatusError
		if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			// Not yet visible to the relay.
			return ledger.Receipt{Status: ledger.ReceiptPending}, nil
		}
		return ledger.Receipt{}, classify(err)
	}
	return r, nil
}

func (c *Client) ReadCurrent(ctx context.Context, subjectID, resourceID string) (ledger.RawView, error) {
	var v ledger.RawView
	vars := map[string]interface{}{"subject": subjectID, "resource": resourceID}
	if err := c.http.Do(ctx, http.MethodGet, currentPath, vars, nil, &v); err != nil {
		var se *httpjson.StatusError
		if stderrors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return ledger.RawView{}, nil
		}
		return ledger.RawView{}, classify(err)
	}
	return v, nil
}

func classify(err error) error {
	var se *httpjson.StatusError
	if !stderrors.As(err, &se) {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ledger.ErrTransient, err)
	}
	switch {
	case se.StatusCode == http.StatusConflict || se.StatusCode == http.StatusUnprocessableEntity:
		return &ledger.RejectedError{Reason: se.Body}
	case se.Retryable():
		return fmt.Errorf("%w: %v", ledger.ErrTransient, se)
	default:
		return &ledger.RejectedError{Reason: se.Error()}
	}
}
