package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/evm"
	"github.com/ggonzalez94/spend-runner/internal/permission"
	"github.com/ggonzalez94/spend-runner/internal/registry"
)

var managerABI = mustABI(registry.SpendPermissionManagerABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Adapter submits the permission-consuming calls against the
// SpendPermissionManager. Each call is a single attempt; retry policy lives
// with the caller.
type Adapter struct {
	submitter *evm.Submitter
	manager   common.Address
}

func New(submitter *evm.Submitter) *Adapter {
	return &Adapter{
		submitter: submitter,
		manager:   common.HexToAddress(registry.SpendPermissionManagerAddress),
	}
}

// Approve registers the signed permission on-chain via approveWithSignature.
func (a *Adapter) Approve(ctx context.Context, perm *permission.SpendPermission) (string, error) {
	tuple, err := perm.Tuple()
	if err != nil {
		return "", err
	}
	data, err := managerABI.Pack("approveWithSignature", tuple, perm.SignatureBytes())
	if err != nil {
		return "", runerr.Wrap(runerr.CodeInternal, "pack approveWithSignature calldata", err)
	}
	hash, err := a.submitter.SubmitAndWait(ctx, a.manager, big.NewInt(0), data)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// Spend pulls amount from the approved allowance to the spender wallet.
func (a *Adapter) Spend(ctx context.Context, perm *permission.SpendPermission, amount *big.Int) (string, error) {
	tuple, err := perm.Tuple()
	if err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", runerr.New(runerr.CodeUsage, "spend amount must be positive")
	}
	data, err := managerABI.Pack("spend", tuple, amount)
	if err != nil {
		return "", runerr.Wrap(runerr.CodeInternal, "pack spend calldata", err)
	}
	hash, err := a.submitter.SubmitAndWait(ctx, a.manager, big.NewInt(0), data)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}
