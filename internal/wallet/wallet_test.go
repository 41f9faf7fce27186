package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/spend-runner/internal/evm"
	"github.com/ggonzalez94/spend-runner/internal/registry"
	"github.com/ggonzalez94/spend-runner/internal/signer"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type swapBackend struct {
	amountOut *big.Int
	sent      []*types.Transaction
}

func (f *swapBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *swapBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return common.LeftPadBytes(f.amountOut.Bytes(), 32), nil
}

func (f *swapBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 300_000, nil
}

func (f *swapBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *swapBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *swapBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *swapBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *swapBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func testWallet(t *testing.T, backend evm.Backend) *Wallet {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.Config{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	sub, err := evm.NewSubmitter(context.Background(), backend, s, evm.Options{
		PollInterval: time.Millisecond,
		StepTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewSubmitter failed: %v", err)
	}
	chain, err := registry.ChainByName("base")
	if err != nil {
		t.Fatalf("ChainByName failed: %v", err)
	}
	w, err := NewWithSubmitter(sub, chain)
	if err != nil {
		t.Fatalf("NewWithSubmitter failed: %v", err)
	}
	return w
}

func TestTradeReportsRealizedOutput(t *testing.T) {
	backend := &swapBackend{amountOut: big.NewInt(987654321)}
	w := testWallet(t, backend)

	token := common.HexToAddress("0x000000000000000000000000000000000000000a")
	result, err := w.Trade(context.Background(), big.NewInt(1000), token)
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if result.AmountOut.Int64() != 987654321 {
		t.Fatalf("unexpected realized output: %s", result.AmountOut)
	}
	if result.TxHash == "" {
		t.Fatal("expected swap tx hash")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	chain, _ := registry.ChainByName("base")
	if tx.To().Hex() != common.HexToAddress(chain.SwapRouter).Hex() {
		t.Fatalf("swap should target the router, got %s", tx.To().Hex())
	}
	if tx.Value().Int64() != 1000 {
		t.Fatalf("swap should carry native value, got %s", tx.Value())
	}
}

func TestTradeRejectsNonPositiveAmount(t *testing.T) {
	w := testWallet(t, &swapBackend{amountOut: big.NewInt(1)})
	token := common.HexToAddress("0x000000000000000000000000000000000000000a")
	if _, err := w.Trade(context.Background(), big.NewInt(0), token); err == nil {
		t.Fatal("expected positive amount error")
	}
}

func TestTransferTargetsToken(t *testing.T) {
	backend := &swapBackend{amountOut: big.NewInt(1)}
	w := testWallet(t, backend)

	token := common.HexToAddress("0x000000000000000000000000000000000000000a")
	dest := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash, err := w.Transfer(context.Background(), big.NewInt(500), token, dest)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected transfer tx hash")
	}
	tx := backend.sent[0]
	if tx.To().Hex() != token.Hex() {
		t.Fatalf("transfer should target the token contract, got %s", tx.To().Hex())
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("transfer must not carry native value, got %s", tx.Value())
	}
	args, err := erc20ABI.Methods["transfer"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack transfer calldata: %v", err)
	}
	if args[0].(common.Address) != dest {
		t.Fatalf("unexpected transfer destination: %v", args[0])
	}
	if args[1].(*big.Int).Int64() != 500 {
		t.Fatalf("unexpected transfer amount: %v", args[1])
	}
}

func TestNewRequiresExecutionContracts(t *testing.T) {
	s, err := signer.NewLocalSigner(signer.Config{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	sub, err := evm.NewSubmitter(context.Background(), &swapBackend{amountOut: big.NewInt(1)}, s, evm.Options{})
	if err != nil {
		t.Fatalf("NewSubmitter failed: %v", err)
	}
	if _, err := NewWithSubmitter(sub, registry.Chain{Name: "bad"}); err == nil {
		t.Fatal("expected missing contracts error")
	}
}
