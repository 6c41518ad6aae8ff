package vmvalidator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-gateway/internal/chainconfig"
	"github.com/insoblok/inso-gateway/internal/genesis"
	"github.com/insoblok/inso-gateway/pkg/types"
)

const (
	testChainID = 7
	ledgerTime  = 1_700_000_000
)

var allowedScript = []byte{0xde, 0xad}

type fakeLedger struct {
	accounts map[common.Address]*types.AccountState
	err      error
	panics   bool
}

func (f *fakeLedger) Account(addr common.Address) (*types.AccountState, bool, error) {
	if f.panics {
		panic("storage exploded")
	}
	if f.err != nil {
		return nil, false, f.err
	}
	if a, ok := f.accounts[addr]; ok {
		return a, true, nil
	}
	return &types.AccountState{Balance: new(big.Int)}, false, nil
}

func (f *fakeLedger) Timestamp() uint64 { return ledgerTime }

type fixture struct {
	key    *ecdsa.PrivateKey
	sender common.Address
	ledger *fakeLedger
	store  *chainconfig.Store
	v      *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	gen := genesis.DefaultGenesis()
	gen.ChainID = testChainID
	gen.VM.OpenScripts = false
	gen.VM.ScriptAllowlist = []common.Hash{crypto.Keccak256Hash(allowedScript)}
	gen.VM.ModulePublishing = false
	gen.VM.WriteSetAuthority = sender
	gen.VM.MinTransactionGas = 100
	gen.VM.MaxTransactionGas = 10_000
	gen.VM.MinGasUnitPrice = 2
	gen.VM.MaxGasUnitPrice = 50

	ledger := &fakeLedger{accounts: map[common.Address]*types.AccountState{
		sender: {SequenceNumber: 5, Balance: big.NewInt(100_000)},
	}}
	store := chainconfig.NewStore(chainconfig.FromGenesis(gen))
	return &fixture{key: key, sender: sender, ledger: ledger, store: store, v: New(testChainID, store, ledger)}
}

func (f *fixture) raw() types.RawTransaction {
	return types.RawTransaction{
		Sender:         f.sender,
		SequenceNumber: 5,
		Payload:        types.Payload{Kind: types.PayloadScript, Code: allowedScript},
		MaxGasAmount:   1_000,
		GasUnitPrice:   10,
		ExpirationTime: ledgerTime + 60,
	}
}

func (f *fixture) sign(t *testing.T, raw types.RawTransaction) *types.SignedTransaction {
	t.Helper()
	tx, err := types.SignTransaction(raw, testChainID, f.key)
	require.NoError(t, err)
	return tx
}

func TestValidate_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *types.RawTransaction)
		want   types.ValidationOutcome
	}{
		{"valid", func(r *types.RawTransaction) {}, types.Valid},
		{"expired at ledger time", func(r *types.RawTransaction) { r.ExpirationTime = ledgerTime }, types.TransactionExpired},
		{"expired before ledger time", func(r *types.RawTransaction) { r.ExpirationTime = ledgerTime - 1 }, types.TransactionExpired},
		{"script not allowlisted", func(r *types.RawTransaction) { r.Payload.Code = []byte{0x01} }, types.DisallowedProgram},
		{"module publishing closed", func(r *types.RawTransaction) { r.Payload.Kind = types.PayloadModule }, types.DisallowedProgram},
		{"write set from authority", func(r *types.RawTransaction) { r.Payload.Kind = types.PayloadWriteSet }, types.Valid},
		{"unknown payload kind", func(r *types.RawTransaction) { r.Payload.Kind = 99 }, types.DisallowedProgram},
		{"gas below minimum", func(r *types.RawTransaction) { r.MaxGasAmount = 99 }, types.GasAmountOutOfBounds},
		{"gas above maximum", func(r *types.RawTransaction) { r.MaxGasAmount = 10_001 }, types.GasAmountOutOfBounds},
		{"price below minimum", func(r *types.RawTransaction) { r.GasUnitPrice = 1 }, types.GasPriceBelowMinimum},
		{"price above maximum", func(r *types.RawTransaction) { r.GasUnitPrice = 51 }, types.GasPriceAboveMaximum},
		{"sequence too old", func(r *types.RawTransaction) { r.SequenceNumber = 4 }, types.SequenceNumberTooOld},
		{"sequence ahead", func(r *types.RawTransaction) { r.SequenceNumber = 50 }, types.Valid},
		{"cannot afford max gas", func(r *types.RawTransaction) { r.MaxGasAmount, r.GasUnitPrice = 10_000, 50 }, types.InsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			raw := f.raw()
			tt.mutate(&raw)
			require.Equal(t, tt.want, f.v.Validate(context.Background(), f.sign(t, raw)))
		})
	}
}

func TestValidate_Signature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("other chain", func(t *testing.T) {
		tx, err := types.SignTransaction(f.raw(), testChainID+1, f.key)
		require.NoError(t, err)
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("key does not own sender", func(t *testing.T) {
		other, _ := crypto.GenerateKey()
		tx, err := types.SignTransaction(f.raw(), testChainID, other)
		require.NoError(t, err)
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("tampered after signing", func(t *testing.T) {
		tx := f.sign(t, f.raw())
		tx.GasUnitPrice++
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("truncated signature", func(t *testing.T) {
		tx := f.sign(t, f.raw())
		tx.Signature = tx.Signature[:10]
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("recovery id out of range", func(t *testing.T) {
		tx := f.sign(t, f.raw())
		tx.Signature[64] = 0x7f
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("recovery id flipped", func(t *testing.T) {
		tx := f.sign(t, f.raw())
		tx.Signature[64] ^= 0x01
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("garbage public key", func(t *testing.T) {
		tx := f.sign(t, f.raw())
		tx.PublicKey = make([]byte, 65)
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))
	})
	t.Run("nil", func(t *testing.T) {
		require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, nil))
	})
}

func TestValidate_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Expired and badly signed: signature is checked first.
	raw := f.raw()
	raw.ExpirationTime = 1
	tx := f.sign(t, raw)
	tx.Signature[5] ^= 0xff
	require.Equal(t, types.InvalidSignature, f.v.Validate(ctx, tx))

	// Disallowed program and out-of-bounds gas: program first.
	raw = f.raw()
	raw.Payload.Code = []byte{0x02}
	raw.MaxGasAmount = 1
	require.Equal(t, types.DisallowedProgram, f.v.Validate(ctx, f.sign(t, raw)))

	// Bad price and stale sequence: gas bounds first.
	raw = f.raw()
	raw.GasUnitPrice = 1
	raw.SequenceNumber = 0
	require.Equal(t, types.GasPriceBelowMinimum, f.v.Validate(ctx, f.sign(t, raw)))
}

func TestValidate_ConfigRefresh(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(t, f.raw())
	require.Equal(t, types.Valid, f.v.Validate(context.Background(), tx))

	f.store.Publish(f.store.Load().WithMinGasUnitPrice(20, 1))
	require.Equal(t, types.GasPriceBelowMinimum, f.v.Validate(context.Background(), tx))
}

func TestValidate_LedgerFailures(t *testing.T) {
	f := newFixture(t)
	tx := f.sign(t, f.raw())

	f.ledger.err = errors.New("disk on fire")
	require.Equal(t, types.Valid, f.v.Validate(context.Background(), tx))

	f.ledger.err = nil
	f.ledger.panics = true
	require.Equal(t, types.InvalidSignature, f.v.Validate(context.Background(), tx))
}

func TestValidate_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, types.Timeout, f.v.Validate(ctx, f.sign(t, f.raw())))
}

func TestValidate_UnknownSender(t *testing.T) {
	f := newFixture(t)
	delete(f.ledger.accounts, f.sender)
	require.Equal(t, types.InsufficientBalance, f.v.Validate(context.Background(), f.sign(t, f.raw())))
}
