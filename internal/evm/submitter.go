package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/signer"
)

// Backend is the slice of ethclient the submitter needs. Narrowed to an
// interface so engine and adapter tests can run against a fake node.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	PollInterval  time.Duration
	StepTimeout   time.Duration
	GasMultiplier float64
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

func (o *Options) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 2 * time.Minute
	}
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = 1.2
	}
}

// Submitter signs and broadcasts contract calls for one wallet identity and
// waits for their receipts.
type Submitter struct {
	backend  Backend
	txSigner signer.Signer
	chainID  *big.Int
	opts     Options
}

func Dial(ctx context.Context, rpcURL string, txSigner signer.Signer, opts Options) (*Submitter, error) {
	if txSigner == nil {
		return nil, runerr.New(runerr.CodeSigner, "missing signer")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, runerr.Wrap(runerr.CodeUnavailable, "connect rpc", err)
	}
	return NewSubmitter(ctx, client, txSigner, opts)
}

func NewSubmitter(ctx context.Context, backend Backend, txSigner signer.Signer, opts Options) (*Submitter, error) {
	if txSigner == nil {
		return nil, runerr.New(runerr.CodeSigner, "missing signer")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, runerr.Wrap(runerr.CodeUnavailable, "read chain id", err)
	}
	opts.normalize()
	return &Submitter{backend: backend, txSigner: txSigner, chainID: chainID, opts: opts}, nil
}

func (s *Submitter) From() common.Address {
	return s.txSigner.Address()
}

func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Call performs a read-only eth_call from the signer address.
func (s *Submitter) Call(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: s.txSigner.Address(), To: &to, Value: value, Data: data}
	out, err := s.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, wrapExecutionError(runerr.CodeOnChain, "call contract", err)
	}
	return out, nil
}

// SubmitAndWait signs, broadcasts, and polls for the receipt. It returns the
// transaction hash once the receipt reports success; a reverted status or a
// timeout is an error carrying the hash in its message for reconciliation.
func (s *Submitter) SubmitAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	msg := ethereum.CallMsg{From: s.txSigner.Address(), To: &to, Value: value, Data: data}

	gasLimit, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapExecutionError(runerr.CodeOnChain, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * s.opts.GasMultiplier)

	tipCap, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, runerr.Wrap(runerr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := s.backend.PendingNonceAt(ctx, s.txSigner.Address())
	if err != nil {
		return common.Hash{}, runerr.Wrap(runerr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := s.txSigner.SignTx(s.chainID, tx)
	if err != nil {
		return common.Hash{}, runerr.Wrap(runerr.CodeSigner, "sign transaction", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapExecutionError(runerr.CodeOnChain, "broadcast transaction", err)
	}
	hash := signed.Hash()

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return hash, nil
			}
			return hash, runerr.New(runerr.CodeOnChain, fmt.Sprintf("transaction %s reverted on-chain", hash.Hex()))
		}
		if waitCtx.Err() != nil {
			return hash, runerr.Wrap(runerr.CodeTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		}
		// Not-yet-mined and transient RPC failures alike retry until the
		// step timeout expires.
		select {
		case <-waitCtx.Done():
			return hash, runerr.Wrap(runerr.CodeTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}
