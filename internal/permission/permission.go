package permission

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
	"github.com/ggonzalez94/spend-runner/internal/registry"
)

// SpendPermission is the signed, time-boxed spend authorization carried in a
// task payload. Integer amounts stay decimal strings end to end so values
// beyond float precision survive the JSON round trip.
type SpendPermission struct {
	Account   string `json:"account"`
	Spender   string `json:"spender"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
	Period    uint64 `json:"period"`
	Start     uint64 `json:"start"`
	End       uint64 `json:"end"`
	Salt      string `json:"salt"`
	ExtraData string `json:"extraData"`
	Signature string `json:"signature"`
}

// maxUint160 bounds allowance; the manager contract stores it as uint160.
var maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// Decode parses and validates a serialized payload.
func Decode(payload string) (*SpendPermission, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, runerr.New(runerr.CodeTask, "task payload is empty")
	}
	var perm SpendPermission
	if err := json.Unmarshal([]byte(payload), &perm); err != nil {
		return nil, runerr.Wrap(runerr.CodeTask, "decode spend permission payload", err)
	}
	if err := perm.Validate(); err != nil {
		return nil, err
	}
	return &perm, nil
}

func (p *SpendPermission) Validate() error {
	if !common.IsHexAddress(p.Account) {
		return runerr.New(runerr.CodeTask, "permission account must be a valid address")
	}
	if !common.IsHexAddress(p.Spender) {
		return runerr.New(runerr.CodeTask, "permission spender must be a valid address")
	}
	if !common.IsHexAddress(p.Token) {
		return runerr.New(runerr.CodeTask, "permission token must be a valid address")
	}
	allowance, ok := new(big.Int).SetString(strings.TrimSpace(p.Allowance), 10)
	if !ok || allowance.Sign() < 0 {
		return runerr.New(runerr.CodeTask, "permission allowance must be a non-negative integer string")
	}
	if allowance.Cmp(maxUint160) > 0 {
		return runerr.New(runerr.CodeTask, "permission allowance exceeds uint160 range")
	}
	if _, ok := new(big.Int).SetString(strings.TrimSpace(p.Salt), 10); !ok {
		return runerr.New(runerr.CodeTask, "permission salt must be an integer string")
	}
	if p.Start > p.End {
		return runerr.New(runerr.CodeTask, "permission start must not exceed end")
	}
	if strings.TrimSpace(p.Signature) == "" {
		return runerr.New(runerr.CodeTask, "permission signature is required")
	}
	if _, err := hexutil.Decode(p.Signature); err != nil {
		return runerr.Wrap(runerr.CodeTask, "permission signature must be hex bytes", err)
	}
	if strings.TrimSpace(p.ExtraData) != "" {
		if _, err := hexutil.Decode(p.ExtraData); err != nil {
			return runerr.Wrap(runerr.CodeTask, "permission extraData must be hex bytes", err)
		}
	}
	return nil
}

// AllowanceAmount returns the capped spendable amount in base units.
func (p *SpendPermission) AllowanceAmount() *big.Int {
	allowance, _ := new(big.Int).SetString(strings.TrimSpace(p.Allowance), 10)
	return allowance
}

// SpendsNativeToken reports whether the permission covers the chain's native
// asset rather than an ERC-20.
func (p *SpendPermission) SpendsNativeToken() bool {
	return strings.EqualFold(p.Token, registry.NativeTokenAddress)
}

// SignatureBytes returns the decoded authorization proof. Call Validate first.
func (p *SpendPermission) SignatureBytes() []byte {
	buf, _ := hexutil.Decode(p.Signature)
	return buf
}

// Tuple is the on-chain SpendPermission struct. Field order mirrors the
// signed EIP-712 structure; the ABI encoder walks fields in declaration
// order, so this layout is load-bearing.
type Tuple struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    *big.Int
	Start     *big.Int
	End       *big.Int
	Salt      *big.Int
	ExtraData []byte
}

// Tuple reconstructs the canonical argument tuple for approve/spend calls.
func (p *SpendPermission) Tuple() (Tuple, error) {
	if err := p.Validate(); err != nil {
		return Tuple{}, err
	}
	salt, _ := new(big.Int).SetString(strings.TrimSpace(p.Salt), 10)
	extraData := []byte{}
	if strings.TrimSpace(p.ExtraData) != "" {
		extraData, _ = hexutil.Decode(p.ExtraData)
	}
	return Tuple{
		Account:   common.HexToAddress(p.Account),
		Spender:   common.HexToAddress(p.Spender),
		Token:     common.HexToAddress(p.Token),
		Allowance: p.AllowanceAmount(),
		Period:    new(big.Int).SetUint64(p.Period),
		Start:     new(big.Int).SetUint64(p.Start),
		End:       new(big.Int).SetUint64(p.End),
		Salt:      salt,
		ExtraData: extraData,
	}, nil
}
