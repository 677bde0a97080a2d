package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the bot's secp256k1 key and signs transactions for one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// target chain ID (97 for BSC testnet).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// LoadSigner resolves the key described by cfg and builds a Signer from it.
func LoadSigner(cfg KeyConfig, chainID int64) (*Signer, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex, chainID)
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// AddressHex returns the signer's address in lower-case hex, the form stored
// on dispute rows.
func (s *Signer) AddressHex() string {
	return strings.ToLower(s.address.Hex())
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx with EIP-155 replay protection.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}
