package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CanonicalAddress validates a 20-byte hex address and returns its lower-case
// 0x-prefixed form. Input is case-insensitive; checksums are not enforced.
func CanonicalAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: invalid address %q", ErrInvalidEvent, raw)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}
