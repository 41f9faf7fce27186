package registry

import "testing"

func TestChainByName(t *testing.T) {
	chain, err := ChainByName("Base")
	if err != nil {
		t.Fatalf("ChainByName failed: %v", err)
	}
	if chain.EVMChainID != 8453 {
		t.Fatalf("unexpected chain id: %d", chain.EVMChainID)
	}
	if _, err := ChainByName("solana"); err == nil {
		t.Fatal("expected unsupported chain error")
	}
}

func TestResolveRPCURL(t *testing.T) {
	chain, _ := ChainByName("base")
	url, err := ResolveRPCURL("", chain)
	if err != nil || url != chain.DefaultRPCURL {
		t.Fatalf("expected chain default, got %q (%v)", url, err)
	}
	url, err = ResolveRPCURL(" https://rpc.example ", chain)
	if err != nil || url != "https://rpc.example" {
		t.Fatalf("expected trimmed override, got %q (%v)", url, err)
	}
}
