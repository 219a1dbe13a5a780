// Package eth submits signed transactions for the escrow client and owns
// the small amount of fee/nonce plumbing that needs.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSigner     = errors.New("eth: invalid signer")
	ErrInvalidPrivateKey = errors.New("eth: invalid private key")
)

// Signer signs transactions for a single account. A browser-wallet bridge
// would implement this too; local runs use LocalSigner.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	var addr common.Address
	if key != nil {
		addr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return &LocalSigner{key: key, addr: addr}
}

func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.key == nil || tx == nil || chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrInvalidSigner
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// ParsePrivateKeyHex parses a single 32-byte secp256k1 key, 0x prefix
// optional. The error never echoes key material.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid secp256k1 key", ErrInvalidPrivateKey)
	}
	return key, nil
}
