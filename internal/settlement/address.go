package settlement

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress is returned for a destination the settlement network cannot accept.
var ErrInvalidAddress = errors.New("invalid destination address")

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ValidateAddress accepts a 0x-prefixed 20-byte hex address. All-lowercase and all-uppercase
// forms are accepted as is; mixed case must carry a valid EIP-55 checksum.
func ValidateAddress(addr string) error {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return fmt.Errorf("%w: want 0x followed by 40 hex characters", ErrInvalidAddress)
	}
	body := addr[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return fmt.Errorf("%w: not hex", ErrInvalidAddress)
	}
	if strings.EqualFold(addr, zeroAddress) {
		return fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	lower := strings.ToLower(body)
	if body == lower || body == strings.ToUpper(body) {
		return nil
	}
	if checksumAddress(lower) != "0x"+body {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

// checksumAddress renders a lowercase 40-char hex body in EIP-55 mixed case.
func checksumAddress(lowerHex string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lowerHex))
	sum := h.Sum(nil)

	out := []byte(lowerHex)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
