// Package vmvalidator runs the static checks a transaction must pass before it
// may enter the pool. Checks never execute the program, so their cost does not
// depend on what the transaction does.
package vmvalidator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/internal/chainconfig"
	"github.com/insoblok/inso-gateway/pkg/types"
)

const (
	publicKeyLength = 65
	signatureLength = 65
)

// LedgerReader is the committed state the validator checks against.
type LedgerReader interface {
	// Account returns the latest committed account state.
	Account(addr common.Address) (*types.AccountState, bool, error)
	// Timestamp returns the trusted ledger time in unix seconds.
	Timestamp() uint64
}

// Validator checks transactions against the current on-chain configuration.
type Validator struct {
	chainID uint64
	config  *chainconfig.Store
	ledger  LedgerReader
	logger  log.Logger
}

// New creates a validator for chainID.
func New(chainID uint64, config *chainconfig.Store, ledger LedgerReader) *Validator {
	return &Validator{
		chainID: chainID,
		config:  config,
		ledger:  ledger,
		logger:  log.New("module", "vmvalidator"),
	}
}

// Validate runs the checks in order and returns the first failure, or Valid.
// It has no side effects and never panics on malformed input.
func (v *Validator) Validate(ctx context.Context, tx *types.SignedTransaction) (outcome types.ValidationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("Recovered from malformed transaction", "panic", r)
			outcome = types.InvalidSignature
		}
	}()
	if ctx.Err() != nil {
		return types.Timeout
	}
	if tx == nil {
		return types.InvalidSignature
	}

	if !v.checkSignature(tx) {
		return types.InvalidSignature
	}
	if tx.ExpirationTime <= v.ledger.Timestamp() {
		return types.TransactionExpired
	}

	// One snapshot for the whole call so a refresh cannot mix two configurations.
	snap := v.config.Load()
	if !programAllowed(snap, tx) {
		return types.DisallowedProgram
	}
	if o := checkGas(snap, tx); o != types.Valid {
		return o
	}

	acct, _, err := v.ledger.Account(tx.Sender)
	if err != nil {
		// Committed state unknown; the pool still checks sequence numbers.
		v.logger.Warn("Failed to read sender account", "sender", tx.Sender.Hex(), "err", err)
		return types.Valid
	}
	if tx.SequenceNumber < acct.SequenceNumber {
		return types.SequenceNumberTooOld
	}
	if acct.Balance == nil || acct.Balance.Cmp(tx.MaxCost()) < 0 {
		return types.InsufficientBalance
	}
	return types.Valid
}

func (v *Validator) checkSignature(tx *types.SignedTransaction) bool {
	if len(tx.PublicKey) != publicKeyLength || len(tx.Signature) != signatureLength {
		return false
	}
	pub, err := crypto.UnmarshalPubkey(tx.PublicKey)
	if err != nil {
		return false
	}
	// The authentication key of an account is the address derived from its key.
	if crypto.PubkeyToAddress(*pub) != tx.Sender {
		return false
	}
	// Only recovery ids 0 and 1 are accepted so every signed payload has exactly
	// one valid encoding, and therefore one transaction hash.
	if tx.Signature[64] > 1 {
		return false
	}
	hash, err := tx.SigningHash(v.chainID)
	if err != nil {
		return false
	}
	if !crypto.VerifySignature(tx.PublicKey, hash.Bytes(), tx.Signature[:64]) {
		return false
	}
	recovered, err := crypto.SigToPub(hash.Bytes(), tx.Signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*recovered) == tx.Sender
}

func programAllowed(snap *chainconfig.Snapshot, tx *types.SignedTransaction) bool {
	switch tx.Payload.Kind {
	case types.PayloadScript:
		return snap.ScriptAllowed(tx.Payload.ProgramHash())
	case types.PayloadModule:
		return snap.ModulePublishing
	case types.PayloadWriteSet:
		return tx.Sender == snap.WriteSetAuthority
	default:
		return false
	}
}

func checkGas(snap *chainconfig.Snapshot, tx *types.SignedTransaction) types.ValidationOutcome {
	if tx.MaxGasAmount < snap.MinTransactionGas || tx.MaxGasAmount > snap.MaxTransactionGas {
		return types.GasAmountOutOfBounds
	}
	if tx.GasUnitPrice < snap.MinGasUnitPrice {
		return types.GasPriceBelowMinimum
	}
	if tx.GasUnitPrice > snap.MaxGasUnitPrice {
		return types.GasPriceAboveMaximum
	}
	return types.Valid
}
