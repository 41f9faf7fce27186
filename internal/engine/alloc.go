package engine

import (
	"math/big"

	"github.com/ggonzalez94/spend-runner/internal/discovery/dexscreener"
)

// MaxTradeTargets caps how many assets one task trades into.
const MaxTradeTargets = 4

// Allocation is one bucket of the per-asset allowance split.
type Allocation struct {
	Asset  dexscreener.Asset
	Amount *big.Int
}

// SplitAllowance divides total across min(maxTargets, len(assets)) buckets.
// Integer division; the remainder lands in the last bucket so the bucket sum
// equals total exactly.
func SplitAllowance(total *big.Int, assets []dexscreener.Asset, maxTargets int) []Allocation {
	if total == nil || total.Sign() <= 0 || len(assets) == 0 {
		return nil
	}
	if maxTargets <= 0 {
		maxTargets = MaxTradeTargets
	}
	n := len(assets)
	if n > maxTargets {
		n = maxTargets
	}

	quotient, remainder := new(big.Int).DivMod(total, big.NewInt(int64(n)), new(big.Int))
	out := make([]Allocation, 0, n)
	for i := 0; i < n; i++ {
		amount := new(big.Int).Set(quotient)
		if i == n-1 {
			amount.Add(amount, remainder)
		}
		out = append(out, Allocation{Asset: assets[i], Amount: amount})
	}
	return out
}
