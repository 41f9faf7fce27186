package wallet

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/evm"
	"github.com/ggonzalez94/spend-runner/internal/registry"
	"github.com/ggonzalez94/spend-runner/internal/signer"
)

var (
	routerABI = mustABI(registry.SwapRouterABI)
	erc20ABI  = mustABI(registry.ERC20MinimalABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// swapParams mirrors the router's exactInputSingle tuple.
type swapParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// defaultFeeTier is the 0.3% pool tier; asset selection here is a
// proportional-split placeholder, not a routing strategy.
var defaultFeeTier = big.NewInt(3000)

// TradeResult reports the submitted swap and its realized output amount.
type TradeResult struct {
	TxHash    string
	AmountOut *big.Int
}

// Wallet executes buy trades and proceeds transfers for one spender identity.
// It is constructed once per task execution and not reused across tasks.
type Wallet struct {
	submitter *evm.Submitter
	chain     registry.Chain
	router    common.Address
	wrapped   common.Address
}

type Config struct {
	Chain      registry.Chain
	RPCURL     string
	SignerCfg  signer.Config
	SubmitOpts evm.Options
}

// New acquires the wallet execution capability. Bad credentials or an
// unreachable RPC surface here, before any on-chain effect.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	txSigner, err := signer.NewLocalSigner(cfg.SignerCfg)
	if err != nil {
		return nil, runerr.Wrap(runerr.CodeSigner, "initialize spender wallet", err)
	}
	rpcURL, err := registry.ResolveRPCURL(cfg.RPCURL, cfg.Chain)
	if err != nil {
		return nil, runerr.Wrap(runerr.CodeUsage, "resolve rpc url", err)
	}
	submitter, err := evm.Dial(ctx, rpcURL, txSigner, cfg.SubmitOpts)
	if err != nil {
		return nil, err
	}
	return NewWithSubmitter(submitter, cfg.Chain)
}

func NewWithSubmitter(submitter *evm.Submitter, chain registry.Chain) (*Wallet, error) {
	if !common.IsHexAddress(chain.SwapRouter) || !common.IsHexAddress(chain.WrappedNative) {
		return nil, runerr.New(runerr.CodeUsage, "chain is missing swap execution contracts")
	}
	return &Wallet{
		submitter: submitter,
		chain:     chain,
		router:    common.HexToAddress(chain.SwapRouter),
		wrapped:   common.HexToAddress(chain.WrappedNative),
	}, nil
}

// Address is the spender wallet address holding the pulled allowance.
func (w *Wallet) Address() common.Address {
	return w.submitter.From()
}

// Trade swaps amountIn of native value into the target asset. The realized
// output is read by simulating the exact calldata before broadcast; the swap
// itself is receipt-confirmed.
func (w *Wallet) Trade(ctx context.Context, amountIn *big.Int, toToken common.Address) (TradeResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return TradeResult{}, runerr.New(runerr.CodeUsage, "trade amount must be positive")
	}
	params := swapParams{
		TokenIn:           w.wrapped,
		TokenOut:          toToken,
		Fee:               defaultFeeTier,
		Recipient:         w.submitter.From(),
		AmountIn:          amountIn,
		AmountOutMinimum:  big.NewInt(0),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return TradeResult{}, runerr.Wrap(runerr.CodeInternal, "pack swap calldata", err)
	}

	out, err := w.submitter.Call(ctx, w.router, amountIn, data)
	if err != nil {
		return TradeResult{}, err
	}
	decoded, err := routerABI.Unpack("exactInputSingle", out)
	if err != nil || len(decoded) != 1 {
		return TradeResult{}, runerr.Wrap(runerr.CodeOnChain, "decode swap output", err)
	}
	amountOut, ok := decoded[0].(*big.Int)
	if !ok || amountOut.Sign() < 0 {
		return TradeResult{}, runerr.New(runerr.CodeOnChain, "swap returned invalid output amount")
	}

	hash, err := w.submitter.SubmitAndWait(ctx, w.router, amountIn, data)
	if err != nil {
		return TradeResult{}, err
	}
	return TradeResult{TxHash: hash.Hex(), AmountOut: amountOut}, nil
}

// Transfer moves realized proceeds of an asset to the destination address and
// waits for settlement.
func (w *Wallet) Transfer(ctx context.Context, amount *big.Int, token, dest common.Address) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", runerr.New(runerr.CodeUsage, "transfer amount must be positive")
	}
	data, err := erc20ABI.Pack("transfer", dest, amount)
	if err != nil {
		return "", runerr.Wrap(runerr.CodeInternal, "pack transfer calldata", err)
	}
	hash, err := w.submitter.SubmitAndWait(ctx, token, big.NewInt(0), data)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}
