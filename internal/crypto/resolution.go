package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// resolutionPrefix versions the resolution message format so a signature
// can never be replayed against a different scheme.
const resolutionPrefix = "wagerd/v1/resolve"

// ResolutionDigest returns the EIP-191 personal-sign digest a resolver signs
// to fix the winning side of a market.
func ResolutionDigest(marketID string, winner domain.Side) []byte {
	msg := ethcrypto.Keccak256([]byte(fmt.Sprintf("%s|%s|%s", resolutionPrefix, marketID, winner)))
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// SignResolution produces a 65-byte resolver signature over the resolution
// message. Used by the resolver tooling and tests.
func SignResolution(key *ecdsa.PrivateKey, marketID string, winner domain.Side) ([]byte, error) {
	sig, err := ethcrypto.Sign(ResolutionDigest(marketID, winner), key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign resolution: %w", err)
	}
	// Shift recovery id to the Ethereum wire convention.
	sig[64] += 27
	return sig, nil
}

// VerifyResolution recovers the signer of a resolution signature and checks
// it against the trusted resolver address. It returns ErrUnauthorized when
// the signature is valid but from the wrong key.
func VerifyResolution(marketID string, winner domain.Side, sig []byte, resolver common.Address) error {
	if len(sig) != 65 {
		return fmt.Errorf("crypto: resolution signature must be 65 bytes, got %d", len(sig))
	}

	// Accept both 0/1 and 27/28 recovery ids.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(ResolutionDigest(marketID, winner), normalized)
	if err != nil {
		return fmt.Errorf("crypto: recover resolution signer: %w", err)
	}

	if ethcrypto.PubkeyToAddress(*pub) != resolver {
		return domain.ErrUnauthorized
	}
	return nil
}
