package signature

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/vedhavyas/go-subkey"
)

const signatureLen = 64

// Verify reports whether signature is a valid sr25519 signature of message by
// ss58Address. The hex signature may carry a 0x prefix. Malformed input is an
// error; a well-formed mismatch is (false, nil).
func Verify(message, signature, ss58Address string) (bool, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("signature is not hex: %w", err)
	}
	if len(sig) != signatureLen {
		return false, fmt.Errorf("signature is %d bytes, want %d", len(sig), signatureLen)
	}

	pub, err := publicKeyOf(ss58Address)
	if err != nil {
		return false, err
	}
	return pub.Verify([]byte(message), sig)
}

func publicKeyOf(ss58Address string) (*sr25519.PublicKey, error) {
	_, raw, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		return nil, fmt.Errorf("decode ss58 %q: %w", ss58Address, err)
	}
	pub, err := sr25519.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("public key for %q: %w", ss58Address, err)
	}
	return pub, nil
}
