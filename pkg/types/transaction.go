package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrMalformedTransaction is returned when raw bytes do not decode into a SignedTransaction.
var ErrMalformedTransaction = errors.New("malformed transaction")

// PayloadKind identifies the kind of program a transaction asks the VM to run.
type PayloadKind uint8

const (
	// PayloadScript runs a transaction script identified by the hash of its code.
	PayloadScript PayloadKind = iota
	// PayloadModule publishes a module.
	PayloadModule
	// PayloadWriteSet applies a direct write set (governance only).
	PayloadWriteSet
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadScript:
		return "script"
	case PayloadModule:
		return "module"
	case PayloadWriteSet:
		return "writeset"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Payload is the program carried by a transaction.
type Payload struct {
	Kind PayloadKind
	Code []byte
	Args [][]byte
}

// ProgramHash returns keccak256(code), the identifier checked against the script allowlist.
func (p *Payload) ProgramHash() common.Hash {
	return crypto.Keccak256Hash(p.Code)
}

// RawTransaction is the unsigned part of a transaction.
type RawTransaction struct {
	Sender         common.Address
	SequenceNumber uint64
	Payload        Payload
	MaxGasAmount   uint64
	GasUnitPrice   uint64
	ExpirationTime uint64 // unix seconds
}

// SignedTransaction is a RawTransaction plus the sender's public key and signature.
// It is never mutated after decoding.
type SignedTransaction struct {
	RawTransaction
	PublicKey []byte // uncompressed secp256k1, 65 bytes
	Signature []byte // [R || S || V], 65 bytes
}

// TxKey identifies the pool slot a transaction competes for.
type TxKey struct {
	Sender         common.Address
	SequenceNumber uint64
}

func (k TxKey) String() string {
	return fmt.Sprintf("%s/%d", k.Sender.Hex(), k.SequenceNumber)
}

type signingPayload struct {
	ChainID uint64
	Raw     RawTransaction
}

// SigningHash returns the digest covered by the signature. The chain id is part of
// the digest so a transaction signed for one chain never verifies on another.
func (r *RawTransaction) SigningHash(chainID uint64) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(&signingPayload{ChainID: chainID, Raw: *r})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode signing payload: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Expiration returns the expiration time as a time.Time.
func (r *RawTransaction) Expiration() time.Time {
	return time.Unix(int64(r.ExpirationTime), 0)
}

// MaxCost is the most the sender can be charged: max gas amount * gas unit price.
func (r *RawTransaction) MaxCost() *big.Int {
	cost := new(big.Int).SetUint64(r.MaxGasAmount)
	return cost.Mul(cost, new(big.Int).SetUint64(r.GasUnitPrice))
}

// Key returns the (sender, sequence number) key of the transaction.
func (tx *SignedTransaction) Key() TxKey {
	return TxKey{Sender: tx.Sender, SequenceNumber: tx.SequenceNumber}
}

// Hash returns keccak256 of the canonical encoding of the whole signed transaction.
func (tx *SignedTransaction) Hash() common.Hash {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(enc)
}

// MarshalBinary returns the canonical RLP encoding.
func (tx *SignedTransaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// DecodeSignedTransaction parses the canonical RLP encoding of a signed transaction.
func DecodeSignedTransaction(data []byte) (*SignedTransaction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedTransaction)
	}
	var tx SignedTransaction
	if err := rlp.DecodeBytes(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	return &tx, nil
}

// SignTransaction signs raw for the given chain with prv.
func SignTransaction(raw RawTransaction, chainID uint64, prv *ecdsa.PrivateKey) (*SignedTransaction, error) {
	hash, err := raw.SigningHash(chainID)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), prv)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &SignedTransaction{
		RawTransaction: raw,
		PublicKey:      crypto.FromECDSAPub(&prv.PublicKey),
		Signature:      sig,
	}, nil
}

// TxMeta is the metadata the pool keeps next to a pending transaction.
type TxMeta struct {
	Tx           *SignedTransaction `json:"-"`
	Hash         common.Hash        `json:"hash"`
	Sender       common.Address     `json:"sender"`
	Sequence     uint64             `json:"sequenceNumber"`
	GasUnitPrice uint64             `json:"gasUnitPrice"`
	ReceivedAt   time.Time          `json:"receivedAt"`
}

// NewTxMeta builds the pool metadata for tx.
func NewTxMeta(tx *SignedTransaction, receivedAt time.Time) *TxMeta {
	return &TxMeta{
		Tx:           tx,
		Hash:         tx.Hash(),
		Sender:       tx.Sender,
		Sequence:     tx.SequenceNumber,
		GasUnitPrice: tx.GasUnitPrice,
		ReceivedAt:   receivedAt,
	}
}
