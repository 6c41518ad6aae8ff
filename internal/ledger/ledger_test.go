package ledger

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/insoblok/inso-gateway/internal/genesis"
	"github.com/insoblok/inso-gateway/pkg/proof"
	"github.com/insoblok/inso-gateway/pkg/types"
)

const testChainID = 42069

type testAccount struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return testAccount{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func newTestGenesis(accts ...testAccount) *genesis.Genesis {
	gen := &genesis.Genesis{
		ChainID:   testChainID,
		Timestamp: 1_700_000_000,
		Alloc:     map[string]genesis.GenesisAccount{},
		VM:        genesis.DefaultVMConfig(),
	}
	for _, a := range accts {
		gen.Alloc[a.addr.Hex()] = genesis.GenesisAccount{Balance: "1000000000"}
	}
	return gen
}

func newTestLedger(t *testing.T, window uint64, accts ...testAccount) *Ledger {
	t.Helper()
	l, err := Open(Config{ChainID: testChainID, PruneWindow: window, AccumulatorCacheSize: 8}, newTestGenesis(accts...))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func signedTx(t *testing.T, a testAccount, seq, price uint64) *types.SignedTransaction {
	t.Helper()
	tx, err := types.SignTransaction(types.RawTransaction{
		Sender:         a.addr,
		SequenceNumber: seq,
		Payload:        types.Payload{Kind: types.PayloadScript, Code: []byte{0x01, byte(seq)}},
		MaxGasAmount:   1000,
		GasUnitPrice:   price,
		ExpirationTime: 1_900_000_000,
	}, testChainID, a.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func commitN(t *testing.T, l *Ledger, a testAccount, n int) {
	t.Helper()
	start := l.LatestVersion()
	for i := 0; i < n; i++ {
		acct, _, err := l.Account(a.addr)
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		if _, err := l.Commit(signedTx(t, a, acct.SequenceNumber, 1), 1_700_000_000+start+uint64(i)+1, 100); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
}

func TestOpen_Genesis(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 0, alice)

	if v := l.LatestVersion(); v != 0 {
		t.Fatalf("expected version 0, got %d", v)
	}
	li, err := l.LatestLedgerInfo()
	if err != nil {
		t.Fatalf("ledger info: %v", err)
	}
	if li.ChainID != testChainID || li.Timestamp != 1_700_000_000 {
		t.Errorf("unexpected ledger info: %+v", li)
	}
	if li.AccumulatorRoot == (common.Hash{}) {
		t.Error("accumulator root should not be empty")
	}

	acct, ok, err := l.Account(alice.addr)
	if err != nil || !ok {
		t.Fatalf("expected alice to exist: ok=%v err=%v", ok, err)
	}
	if acct.Balance.Cmp(big.NewInt(1_000_000_000)) != 0 || acct.SequenceNumber != 0 {
		t.Errorf("unexpected account: %+v", acct)
	}
}

func TestOpen_NoGenesis(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("expected error opening an empty ledger without genesis")
	}
}

func TestCommit_AdvancesState(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 0, alice)

	info, err := l.Commit(signedTx(t, alice, 0, 3), 1_700_000_100, 100)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if info.Version != 1 || info.Status != types.TxStatusExecuted || info.GasUsed != 100 {
		t.Errorf("unexpected info: %+v", info)
	}
	if l.Timestamp() != 1_700_000_100 {
		t.Errorf("expected ledger time to advance, got %d", l.Timestamp())
	}

	acct, _, _ := l.Account(alice.addr)
	if acct.SequenceNumber != 1 {
		t.Errorf("expected sequence 1, got %d", acct.SequenceNumber)
	}
	if acct.Balance.Cmp(big.NewInt(1_000_000_000-300)) != 0 {
		t.Errorf("expected fee to be charged, balance %s", acct.Balance)
	}
}

func TestCommit_Rejects(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	l := newTestLedger(t, 0, alice)

	if _, err := l.Commit(signedTx(t, alice, 5, 1), 1, 100); !errors.Is(err, ErrSequenceMismatch) {
		t.Errorf("expected ErrSequenceMismatch, got %v", err)
	}
	if _, err := l.Commit(signedTx(t, bob, 0, 1), 1, 100); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if v := l.LatestVersion(); v != 0 {
		t.Errorf("rejected commits must not advance the ledger, at %d", v)
	}
}

func TestAccountProof_Verifies(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 0, alice)
	commitN(t, l, alice, 3)

	for v := uint64(0); v <= 3; v++ {
		li, err := l.LedgerInfo(v)
		if err != nil {
			t.Fatalf("ledger info %d: %v", v, err)
		}
		acct, err := l.GetAccountWithProof(alice.addr, v)
		if err != nil {
			t.Fatalf("account proof %d: %v", v, err)
		}
		if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemAccountState, Account: acct}); err != nil {
			t.Fatalf("proof at %d does not verify: %v", v, err)
		}
		state, err := types.DecodeAccountBlob(acct.Blob)
		if err != nil {
			t.Fatalf("decode blob: %v", err)
		}
		if state.SequenceNumber != v {
			t.Errorf("version %d: expected sequence %d, got %d", v, v, state.SequenceNumber)
		}
	}
}

func TestAccountProof_TamperedFails(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 0, alice)
	commitN(t, l, alice, 2)

	li, _ := l.LatestLedgerInfo()
	acct, err := l.GetAccountWithProof(alice.addr, li.Version)
	if err != nil {
		t.Fatalf("account proof: %v", err)
	}

	blob := append([]byte(nil), acct.Blob...)
	blob[len(blob)-1] ^= 0x01
	tampered := *acct
	tampered.Blob = blob
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemAccountState, Account: &tampered}); err == nil {
		t.Fatal("tampered blob must not verify")
	}

	tampered = *acct
	tampered.TransactionInfo.GasUsed++
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemAccountState, Account: &tampered}); err == nil {
		t.Fatal("tampered transaction info must not verify")
	}
}

func TestAccountProof_Absent(t *testing.T) {
	alice := newTestAccount(t)
	ghost := newTestAccount(t)
	l := newTestLedger(t, 0, alice)

	li, _ := l.LatestLedgerInfo()
	acct, err := l.GetAccountWithProof(ghost.addr, li.Version)
	if err != nil {
		t.Fatalf("account proof: %v", err)
	}
	if len(acct.Blob) != 0 {
		t.Fatalf("expected empty blob for absent account, got %x", acct.Blob)
	}
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemAccountState, Account: acct}); err != nil {
		t.Fatalf("exclusion proof does not verify: %v", err)
	}
}

func TestTransactionProofs(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 0, alice)
	commitN(t, l, alice, 4)
	li, _ := l.LatestLedgerInfo()

	byVersion, err := l.GetTransactionWithProof(2, li.Version)
	if err != nil {
		t.Fatalf("by version: %v", err)
	}
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemTransactionByVersion, Transaction: byVersion}); err != nil {
		t.Fatalf("by version proof: %v", err)
	}
	tx, err := types.DecodeSignedTransaction(byVersion.Transaction)
	if err != nil || tx.SequenceNumber != 1 {
		t.Fatalf("expected sequence 1 at version 2, got %v (err %v)", tx, err)
	}

	bySeq, err := l.GetTransactionBySequence(alice.addr, 1, li.Version)
	if err != nil {
		t.Fatalf("by sequence: %v", err)
	}
	if bySeq.TransactionInfo != byVersion.TransactionInfo {
		t.Errorf("by sequence and by version disagree: %+v vs %+v", bySeq.TransactionInfo, byVersion.TransactionInfo)
	}

	genesisTx, err := l.GetTransactionWithProof(0, li.Version)
	if err != nil {
		t.Fatalf("genesis tx: %v", err)
	}
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemTransactionByVersion, Transaction: genesisTx}); err != nil {
		t.Fatalf("genesis proof: %v", err)
	}

	if _, err := l.GetTransactionBySequence(alice.addr, 99, li.Version); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// committed after the requested ledger version
	if _, err := l.GetTransactionWithProof(3, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a later transaction, got %v", err)
	}

	meta, err := l.GetMetadataWithProof(li.Version)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if err := proof.VerifyItem(li, &types.ProvenItem{Kind: types.ItemLedgerMetadata, Metadata: meta}); err != nil {
		t.Fatalf("metadata proof: %v", err)
	}
}

func TestPruning(t *testing.T) {
	alice := newTestAccount(t)
	l := newTestLedger(t, 2, alice)
	commitN(t, l, alice, 5)

	if floor := l.PruneFloor(); floor != 3 {
		t.Fatalf("expected floor 3, got %d", floor)
	}

	old := uint64(1)
	if _, err := l.ResolveVersion(&old); !errors.Is(err, ErrVersionPruned) {
		t.Errorf("expected ErrVersionPruned, got %v", err)
	}
	if _, err := l.GetAccountWithProof(alice.addr, 1); !errors.Is(err, ErrVersionPruned) {
		t.Errorf("expected ErrVersionPruned for account read, got %v", err)
	}
	if _, err := l.GetTransactionWithProof(1, l.LatestVersion()); !errors.Is(err, ErrVersionPruned) {
		t.Errorf("expected ErrVersionPruned for transaction read, got %v", err)
	}

	future := uint64(99)
	if _, err := l.ResolveVersion(&future); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}

	kept := uint64(3)
	v, err := l.ResolveVersion(&kept)
	if err != nil || v != 3 {
		t.Fatalf("expected version 3 to be served, got %d (%v)", v, err)
	}
	if _, err := l.GetAccountWithProof(alice.addr, 3); err != nil {
		t.Errorf("retained version should be readable: %v", err)
	}
}

func TestRestoreFromDisk(t *testing.T) {
	alice := newTestAccount(t)
	dir := t.TempDir()
	gen := newTestGenesis(alice)

	l, err := Open(Config{DataDir: dir, ChainID: testChainID}, gen)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	commitN(t, l, alice, 3)
	want, _ := l.LatestLedgerInfo()
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(Config{DataDir: dir, ChainID: testChainID}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LatestLedgerInfo()
	if err != nil {
		t.Fatalf("ledger info: %v", err)
	}
	if got != want {
		t.Fatalf("restored ledger info %+v, want %+v", got, want)
	}
	acct, _, _ := reopened.Account(alice.addr)
	if acct.SequenceNumber != 3 {
		t.Errorf("expected sequence 3 after restore, got %d", acct.SequenceNumber)
	}
}

func TestClosed(t *testing.T) {
	l, err := Open(Config{ChainID: testChainID}, newTestGenesis())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Close()
	if _, err := l.ResolveVersion(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
