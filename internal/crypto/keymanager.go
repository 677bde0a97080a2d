// Package crypto holds the bot wallet: it resolves the signing key from a raw
// hex value or a password-protected key file and signs chain transactions.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations  = 480_000
	saltLen        = 16
	aesKeyLen      = 32
	keyFileVersion = 1
)

// keyFile is the on-disk wallet format. Byte fields are base64 in JSON. The
// address is stored in the clear and bound to the ciphertext as associated
// data, so a file can be matched to its bot account without the password.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig is populated from config.WalletConfig. A raw key wins over the
// key file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func parseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

func walletAEAD(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: key password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// sealKey encrypts a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM.
func sealKey(privateKeyHex, password string) (keyFile, error) {
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return keyFile{}, err
	}
	kf := keyFile{
		Version: keyFileVersion,
		Address: strings.ToLower(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()),
		Salt:    make([]byte, saltLen),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return keyFile{}, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := walletAEAD(password, kf.Salt)
	if err != nil {
		return keyFile{}, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return keyFile{}, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), []byte(kf.Address))
	return kf, nil
}

// DecryptKey opens key file contents and returns the private key as hex
// without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	aead, err := walletAEAD(password, kf.Salt)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes, want %d", len(kf.Nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, []byte(kf.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: open key file (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if got := strings.ToLower(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()); got != kf.Address {
		return "", fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address, got)
	}
	return hex.EncodeToString(plain), nil
}

// WriteKeyFile encrypts privateKeyHex into a new owner-only file at path and
// returns the wallet address it holds. An existing file is never overwritten.
func WriteKeyFile(path, privateKeyHex, password string) (string, error) {
	kf, err := sealKey(privateKeyHex, password)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("crypto: encode key file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("crypto: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("crypto: close key file: %w", err)
	}
	return kf.Address, nil
}

// LoadKey resolves the private key described by cfg and returns it as hex
// without the 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		pk, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no private key configured (set wallet.private_key or wallet.encrypted_key_path)")
	}
}
