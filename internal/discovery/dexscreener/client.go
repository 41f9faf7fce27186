package dexscreener

import (
	"context"
	"strings"

	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/httpx"
)

const defaultBase = "https://api.dexscreener.com"

// Asset is one candidate trade target from the latest-profiles feed.
// Ephemeral: fetched fresh per task execution, never persisted.
type Asset struct {
	ChainID string `json:"chainId"`
	Address string `json:"tokenAddress"`
	Symbol  string `json:"symbol"`
}

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: defaultBase}
}

// NewWithBaseURL points the client at an alternate feed host.
func NewWithBaseURL(httpClient *httpx.Client, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		return New(httpClient)
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// Latest returns the raw latest token profiles across all chains.
func (c *Client) Latest(ctx context.Context) ([]Asset, error) {
	url := c.baseURL + "/token-profiles/latest/v1"
	var assets []Asset
	if _, err := c.http.GetJSON(ctx, url, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// LatestForChain filters the feed to assets on the target network. An empty
// result is a valid outcome, not an error; upstream failures propagate.
func (c *Client) LatestForChain(ctx context.Context, chain string) ([]Asset, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		return nil, runerr.New(runerr.CodeUsage, "discovery chain is required")
	}
	assets, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		if strings.EqualFold(a.ChainID, chain) && strings.TrimSpace(a.Address) != "" {
			out = append(out, a)
		}
	}
	return out, nil
}
