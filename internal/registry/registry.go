package registry

import (
	"fmt"
	"strings"
)

// SpendPermissionManagerAddress is the canonical manager contract consuming
// signed spend permissions. Deployed at the same address on every supported
// chain.
const SpendPermissionManagerAddress = "0xf85210B21cC50302F477BA56686d2019dC9b67Ad"

// NativeTokenAddress is the sentinel token address meaning the chain's native
// asset inside a spend permission.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Chain bundles the per-network execution data the worker needs.
type Chain struct {
	Name          string
	EVMChainID    int64
	DefaultRPCURL string
	WrappedNative string
	SwapRouter    string
}

var chainsByName = map[string]Chain{
	"base": {
		Name:          "base",
		EVMChainID:    8453,
		DefaultRPCURL: "https://mainnet.base.org",
		WrappedNative: "0x4200000000000000000000000000000000000006",
		SwapRouter:    "0x2626664c2603336E57B271c5C0b26F421741e481",
	},
	"base-sepolia": {
		Name:          "base-sepolia",
		EVMChainID:    84532,
		DefaultRPCURL: "https://sepolia.base.org",
		WrappedNative: "0x4200000000000000000000000000000000000006",
		SwapRouter:    "0x94cC0AaC535CCDB3C01d6787D6413C739ae12bc4",
	},
}

func ChainByName(name string) (Chain, error) {
	chain, ok := chainsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain %q", name)
	}
	return chain, nil
}

// ResolveRPCURL prefers an explicit override, then the chain default.
func ResolveRPCURL(override string, chain Chain) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if chain.DefaultRPCURL == "" {
		return "", fmt.Errorf("no default rpc url for chain %s", chain.Name)
	}
	return chain.DefaultRPCURL, nil
}
