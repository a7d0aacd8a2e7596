package signature

import "github.com/ChainSafe/gossamer/lib/crypto/sr25519"

const (
	SubstrateNetworkId = 42

	DefaultBittensorDir = "~/.bittensor"
)

// Signer signs messages on behalf of a single SS58 identity.
type Signer interface {
	Sign(message string) (string, error)
	Address() string
}

// Provider is a Signer backed by an sr25519 keypair.
type Provider struct {
	keypair *sr25519.Keypair
	address string
}
