package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/spend-runner/internal/httpx"
)

func TestLatestForChainFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token-profiles/latest/v1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"chainId":"base","tokenAddress":"0x000000000000000000000000000000000000000a","symbol":"AAA"},
			{"chainId":"solana","tokenAddress":"So11111111111111111111111111111111111111112","symbol":"SOL"},
			{"chainId":"Base","tokenAddress":"0x000000000000000000000000000000000000000b","symbol":"BBB"},
			{"chainId":"base","tokenAddress":"","symbol":"EMPTY"}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0))
	c.baseURL = srv.URL
	assets, err := c.LatestForChain(context.Background(), "base")
	if err != nil {
		t.Fatalf("LatestForChain failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 base assets, got %d: %+v", len(assets), assets)
	}
	if assets[0].Symbol != "AAA" || assets[1].Symbol != "BBB" {
		t.Fatalf("unexpected assets: %+v", assets)
	}
}

func TestLatestForChainPropagatesFeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0))
	c.baseURL = srv.URL
	if _, err := c.LatestForChain(context.Background(), "base"); err == nil {
		t.Fatal("expected upstream failure to propagate")
	}
}

func TestLatestForChainEmptyResultIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"chainId":"ethereum","tokenAddress":"0x000000000000000000000000000000000000000c","symbol":"CCC"}]`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0))
	c.baseURL = srv.URL
	assets, err := c.LatestForChain(context.Background(), "base")
	if err != nil {
		t.Fatalf("LatestForChain failed: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected empty result, got %+v", assets)
	}
}
