// Package wallet provides a local signer that authorizes transaction requests
// and submits them through the session gate. It stands in for an external
// wallet in headless deployments and tests.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/util"
)

var ErrBadSignature = errors.New("bad transaction signature")

// Key is a secp256k1 key pair.
type Key struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func GenerateKey() (*Key, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newKey(privateKey), nil
}

// FromPrivateKeyHex accepts 64 hex chars with or without 0x.
func FromPrivateKeyHex(hexKey string) (*Key, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newKey(privateKey), nil
}

func newKey(privateKey *ecdsa.PrivateKey) *Key {
	return &Key{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

func (k *Key) Address() common.Address { return k.address }

// PrivateKeyHex returns the private key without 0x. Never log it.
func (k *Key) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(k.privateKey))
}

// Sign returns a 65 byte [R || S || V] signature over a 32 byte digest.
func (k *Key) Sign(digest ledger.Digest) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// RecoverAddress returns the address that produced signature over digest.
func RecoverAddress(digest ledger.Digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	pub, err := crypto.SigToPub(digest[:], signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that tx is signed by its declared signer over its request digest.
func Verify(tx *ledger.SignedTransaction) error {
	sig, err := hexutil.Decode(tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	addr, err := RecoverAddress(tx.Request.Digest(), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !common.IsHexAddress(tx.Signer) || common.HexToAddress(tx.Signer) != addr {
		return fmt.Errorf("%w: signed by %s, declared %s", ErrBadSignature, addr.Hex(), tx.Signer)
	}
	return nil
}

// Local signs requests with a Key and submits them through the session gate.
type Local struct {
	key    *Key
	handle *session.Handle
	logger *zap.SugaredLogger
}

func NewLocal(key *Key, handle *session.Handle, logger *zap.SugaredLogger) *Local {
	return &Local{key: key, handle: handle, logger: util.OrNop(logger).With("component", "wallet")}
}

func (w *Local) Address() common.Address { return w.key.Address() }

// Sign authorizes req without submitting it.
func (w *Local) Sign(req *ledger.TransactionRequest) (*ledger.SignedTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sig, err := w.key.Sign(req.Digest())
	if err != nil {
		return nil, err
	}
	return &ledger.SignedTransaction{
		Request:   *req,
		Signer:    w.key.Address().Hex(),
		Signature: hexutil.Encode(sig),
	}, nil
}

// RequestTransaction signs req and submits it, returning the transaction id.
func (w *Local) RequestTransaction(ctx context.Context, req *ledger.TransactionRequest) (string, error) {
	tx, err := w.Sign(req)
	if err != nil {
		return "", err
	}
	txID, err := session.Exclusive(ctx, w.handle, func(ctx context.Context, c ledger.Client) (string, error) {
		return c.SubmitTransaction(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	w.logger.Infow("transaction_submitted",
		"tx_id", txID,
		"signer", tx.Signer,
		"outputs", len(req.OutputNotes),
		"inputs", len(req.InputNoteIDs),
	)
	return txID, nil
}
