// Signers identify the watchtower's account on the smart chain.
package signers

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	mycommon "github.com/TEENet-io/watchtower-go/common"
)

// KeySigner holds a local secp256k1 key.
type KeySigner struct {
	priv    *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner loads a hex private key, with or without 0x prefix.
func NewKeySigner(privHex string) (*KeySigner, error) {
	priv, err := crypto.HexToECDSA(mycommon.Trim0xPrefix(privHex))
	if err != nil {
		return nil, err
	}
	return &KeySigner{priv: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// Create a signer with a fresh random key.
func NewRandomKeySigner() (*KeySigner, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeySigner{priv: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

func (s *KeySigner) GetAddress() string {
	return s.address.Hex()
}

// Sign signs a 32 byte digest.
func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.priv)
}
