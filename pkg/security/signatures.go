package security

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Validator proves which address signed a message
type Validator interface {
	RecoverSigner(message, signature string) (common.Address, error)
	// Verify reports whether signature over message was produced by address
	Verify(message, signature, address string) (bool, error)
}

type personalSignValidator struct{}

// NewValidator returns a validator for EIP-191 personal_sign signatures
func NewValidator() Validator {
	return &personalSignValidator{}
}

func (v *personalSignValidator) RecoverSigner(message, signature string) (common.Address, error) {
	return RecoverSigner(message, signature)
}

func (v *personalSignValidator) Verify(message, signature, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, nil
	}
	signer, err := RecoverSigner(message, signature)
	if err != nil {
		return false, err
	}
	return signer == common.HexToAddress(address), nil
}

// RecoverSigner recovers the signer address of a 65 byte hex personal_sign signature
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(ensureHexPrefix(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	// wallets produce v in {27, 28}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces a personal_sign signature with v in {27, 28}
func SignMessage(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
