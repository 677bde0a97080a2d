package crypto

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key; its address is fixed.
const (
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 97)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())
	assert.Equal(t, "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", s.AddressHex())
	assert.Equal(t, int64(97), s.ChainID().Int64())
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", 97)
	assert.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(testKeyHex, 97)
	require.NoError(t, err)

	tx := types.NewTransaction(1, common.HexToAddress("0x01"), big.NewInt(0), 21000, big.NewInt(1), nil)
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.NewEIP155Signer(big.NewInt(97)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestEncryptedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	addr, err := WriteKeyFile(path, "0x"+testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(testAddress), addr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}, 97)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	_, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"}, 97)
	assert.Error(t, err)
}

func TestWriteKeyFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o600))

	_, err := WriteKeyFile(path, testKeyHex, "hunter2")
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestWriteKeyFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteKeyFile(filepath.Join(dir, "a.json"), "not-a-key", "hunter2")
	assert.Error(t, err)
	_, err = WriteKeyFile(filepath.Join(dir, "b.json"), testKeyHex, "")
	assert.Error(t, err)
}

func TestDecryptKeyRejectsSwappedAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := WriteKeyFile(path, testKeyHex, "hunter2")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var kf keyFile
	require.NoError(t, json.Unmarshal(data, &kf))
	kf.Address = "0x0000000000000000000000000000000000000001"
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "hunter2")
	assert.Error(t, err)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadKeyWithoutSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)
}
