// Package indexclient queries the read index over HTTP/JSON.
package indexclient

import (
	"context"
	"net/http"

	"courseledger/internal/application/index"
	"courseledger/internal/infrastructure/httpjson"
)

var queryPath = httpjson.Template("/query")

// Client implements index.Client. Ingestion errors come back inside a 2xx
// Result; only transport failures and non-2xx statuses are errors.
type Client struct {
	http *httpjson.Client
}

var _ index.Client = (*Client)(nil)

func New(cfg httpjson.Config) *Client {
	return &Client{http: httpjson.New(cfg)}
}

func (c *Client) Query(ctx context.Context, q index.QuerySpec) (index.Result, error) {
	var r index.Result
	if err := c.http.Do(ctx, http.MethodPost, queryPath, nil, q, &r); err != nil {
		return index.Result{}, err
	}
	return r, nil
}
