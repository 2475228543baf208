package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// TransactionSigner signs transactions on behalf of a single account.
type TransactionSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner implements TransactionSigner with an in-memory private key.
// Intended for development networks and test accounts.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key, with or without "0x".
func NewLocalSigner(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewLocalSignerFromKey(privateKey, chainID), nil
}

// NewLocalSignerFromKey creates a LocalSigner from a parsed key.
func NewLocalSignerFromKey(privateKey *ecdsa.PrivateKey, chainID *big.Int) *LocalSigner {
	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    new(big.Int).Set(chainID),
	}
}

// Address returns the signer's Ethereum address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID used for EIP-155 signing.
func (s *LocalSigner) ChainID() *big.Int {
	return s.chainID
}

// SignTransaction signs a transaction using the local private key.
func (s *LocalSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

var _ TransactionSigner = (*LocalSigner)(nil)

// LoadKeyfile decrypts a Web3 Secret Storage (v3) keyfile.
func LoadKeyfile(path, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid keyfile format")
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keyfile: %w", err)
	}
	return key.PrivateKey, nil
}

// KeyfileParams selects the scrypt cost used when encrypting a keyfile.
type KeyfileParams struct {
	ScryptN int
	ScryptP int
}

// StandardKeyfileParams matches geth's default (slow) scrypt parameters.
var StandardKeyfileParams = KeyfileParams{ScryptN: keystore.StandardScryptN, ScryptP: keystore.StandardScryptP}

// LightKeyfileParams is cheap enough for tests and throwaway accounts.
var LightKeyfileParams = KeyfileParams{ScryptN: keystore.LightScryptN, ScryptP: keystore.LightScryptP}

// CreateKeyfile encrypts privateKey with password and writes it to path.
// The file is created with mode 0600 and must not already exist.
func CreateKeyfile(privateKey *ecdsa.PrivateKey, password, path string, params KeyfileParams) (common.Address, error) {
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
	encrypted, err := keystore.EncryptKey(key, password, params.ScryptN, params.ScryptP)
	if err != nil {
		return common.Address{}, fmt.Errorf("encrypt key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return common.Address{}, fmt.Errorf("create keyfile: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(encrypted); err != nil {
		return common.Address{}, fmt.Errorf("write keyfile: %w", err)
	}
	return key.Address, nil
}
