package evm

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	runerr "github.com/ggonzalez94/spend-runner/internal/errors"
)

// errorStringSelector is the 4-byte selector of Error(string).
var errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

type dataError interface {
	ErrorData() interface{}
}

// wrapExecutionError decorates an RPC error with the decoded revert reason
// when the node attached return data. Operators diagnose failed spends from
// the task log, so the human-readable reason matters.
func wrapExecutionError(code runerr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return runerr.Wrap(code, fmt.Sprintf("%s: %s", message, reason), err)
	}
	return runerr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var de dataError
	if !asDataError(err, &de) {
		return ""
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

func asDataError(err error, target *dataError) bool {
	for err != nil {
		if de, ok := err.(dataError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	if selector != errorStringSelector {
		return fmt.Sprintf("custom error 0x%x", selector)
	}
	// Error(string): offset word, length word, then the bytes.
	payload := data[4:]
	if len(payload) < 64 {
		return ""
	}
	// Offset and length words come from the node unchecked; compare on the
	// subtraction side so huge values cannot wrap the bounds math around.
	offset := new(big.Int).SetBytes(payload[:32])
	if !offset.IsUint64() || offset.Uint64() > uint64(len(payload))-32 {
		return ""
	}
	lengthStart := offset.Uint64()
	length := binary.BigEndian.Uint64(payload[lengthStart+24 : lengthStart+32])
	if length > uint64(len(payload))-lengthStart-32 {
		return ""
	}
	return strings.TrimSpace(string(payload[lengthStart+32 : lengthStart+32+length]))
}
