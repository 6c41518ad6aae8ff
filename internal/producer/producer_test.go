package producer

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/insoblok/inso-gateway/internal/chainconfig"
	"github.com/insoblok/inso-gateway/internal/fees"
	"github.com/insoblok/inso-gateway/internal/genesis"
	"github.com/insoblok/inso-gateway/internal/ledger"
	"github.com/insoblok/inso-gateway/internal/mempool"
	"github.com/insoblok/inso-gateway/pkg/types"
)

const (
	testChainID = 42069
	genesisTime = 1_700_000_000
)

type account struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return account{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (a account) tx(t *testing.T, seq, price, expires uint64) *types.SignedTransaction {
	t.Helper()
	tx, err := types.SignTransaction(types.RawTransaction{
		Sender:         a.addr,
		SequenceNumber: seq,
		Payload:        types.Payload{Kind: types.PayloadScript, Code: []byte{0x01}},
		MaxGasAmount:   1_000,
		GasUnitPrice:   price,
		ExpirationTime: expires,
	}, testChainID, a.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

type harness struct {
	ledger   *ledger.Ledger
	pool     *mempool.Pool
	store    *chainconfig.Store
	producer *Producer
}

func newHarness(t *testing.T, balances map[common.Address]string) *harness {
	t.Helper()
	gen := &genesis.Genesis{
		ChainID:   testChainID,
		Timestamp: genesisTime,
		Alloc:     map[string]genesis.GenesisAccount{},
		VM:        genesis.DefaultVMConfig(),
	}
	for addr, bal := range balances {
		gen.Alloc[addr.Hex()] = genesis.GenesisAccount{Balance: bal}
	}
	l, err := ledger.Open(ledger.Config{ChainID: testChainID}, gen)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	pool := mempool.NewPool(100, 16, l)
	store := chainconfig.NewStore(chainconfig.FromGenesis(gen))
	fm := fees.NewPriceModel(gen.VM.MinGasUnitPrice, gen.VM.MinGasUnitPrice, gen.VM.MaxGasUnitPrice)
	p := New(Config{Interval: time.Hour, MaxTxPerBlock: 4, TxGas: 600}, l, pool, fm, store, nil)
	p.now = func() time.Time { return time.Unix(genesisTime+10, 0) }
	return &harness{ledger: l, pool: pool, store: store, producer: p}
}

func (h *harness) add(t *testing.T, tx *types.SignedTransaction) {
	t.Helper()
	if err := h.pool.Add(context.Background(), tx); err != nil {
		t.Fatalf("pool add: %v", err)
	}
}

func TestProduceBlockCommitsReadyTransactions(t *testing.T) {
	alice, bob := newAccount(t), newAccount(t)
	h := newHarness(t, map[common.Address]string{alice.addr: "1000000000", bob.addr: "1000000000"})

	h.add(t, alice.tx(t, 0, 5, genesisTime+3600))
	h.add(t, alice.tx(t, 1, 5, genesisTime+3600))
	h.add(t, bob.tx(t, 0, 9, genesisTime+3600))
	h.add(t, bob.tx(t, 2, 9, genesisTime+3600)) // gap, not ready

	var hooked types.LedgerInfo
	h.producer.SetCommitHook(func(info types.LedgerInfo) { hooked = info })

	if n := h.producer.ProduceBlock(); n != 3 {
		t.Fatalf("committed %d, want 3", n)
	}
	if v := h.ledger.LatestVersion(); v != 3 {
		t.Fatalf("latest version %d, want 3", v)
	}
	if hooked.Version != 3 {
		t.Fatalf("commit hook saw version %d", hooked.Version)
	}
	if h.pool.Len() != 1 || !h.pool.Has(types.TxKey{Sender: bob.addr, SequenceNumber: 2}) {
		t.Fatalf("only bob/2 should remain, pool has %d", h.pool.Len())
	}

	acct, _, err := h.ledger.Account(alice.addr)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.SequenceNumber != 2 {
		t.Fatalf("alice sequence %d, want 2", acct.SequenceNumber)
	}
	if h.ledger.Timestamp() != genesisTime+10 {
		t.Fatalf("ledger time %d", h.ledger.Timestamp())
	}
}

func TestProduceBlockRespectsMaxTx(t *testing.T) {
	alice := newAccount(t)
	h := newHarness(t, map[common.Address]string{alice.addr: "1000000000"})
	for seq := uint64(0); seq < 6; seq++ {
		h.add(t, alice.tx(t, seq, 5, genesisTime+3600))
	}

	if n := h.producer.ProduceBlock(); n != 4 {
		t.Fatalf("committed %d, want 4", n)
	}
	if n := h.producer.ProduceBlock(); n != 2 {
		t.Fatalf("committed %d, want 2", n)
	}
	if h.pool.Len() != 0 {
		t.Fatalf("pool not drained: %d", h.pool.Len())
	}
}

func TestProduceBlockDropsExpiredAndUnaffordable(t *testing.T) {
	alice, bob := newAccount(t), newAccount(t)
	h := newHarness(t, map[common.Address]string{alice.addr: "1000000000", bob.addr: "100"})

	h.add(t, alice.tx(t, 0, 5, genesisTime+5)) // expired at block time
	h.add(t, alice.tx(t, 1, 5, genesisTime+3600))
	h.add(t, bob.tx(t, 0, 5, genesisTime+3600)) // 600 * 5 > 100

	if n := h.producer.ProduceBlock(); n != 0 {
		t.Fatalf("committed %d, want 0", n)
	}
	if h.pool.Has(types.TxKey{Sender: alice.addr, SequenceNumber: 0}) {
		t.Fatal("expired transaction still pending")
	}
	if h.pool.Has(types.TxKey{Sender: bob.addr, SequenceNumber: 0}) {
		t.Fatal("unaffordable transaction still pending")
	}
	if !h.pool.Has(types.TxKey{Sender: alice.addr, SequenceNumber: 1}) {
		t.Fatal("alice/1 should wait for its predecessor")
	}
}

func TestProduceBlockPublishesGasPrice(t *testing.T) {
	alice := newAccount(t)
	h := newHarness(t, map[common.Address]string{alice.addr: "1000000000000"})
	start := h.store.Load().MinGasUnitPrice

	for round := uint64(0); round < 5; round++ {
		for i := uint64(0); i < 4; i++ {
			h.add(t, alice.tx(t, round*4+i, 100, genesisTime+3600))
		}
		if n := h.producer.ProduceBlock(); n != 4 {
			t.Fatalf("round %d committed %d", round, n)
		}
	}

	snap := h.store.Load()
	if snap.MinGasUnitPrice <= start {
		t.Fatalf("full blocks should raise the price floor, still %d", snap.MinGasUnitPrice)
	}
	if snap.Version != h.ledger.LatestVersion() {
		t.Fatalf("snapshot version %d, ledger %d", snap.Version, h.ledger.LatestVersion())
	}
}

func TestStartStop(t *testing.T) {
	alice := newAccount(t)
	h := newHarness(t, map[common.Address]string{alice.addr: "1000000000"})
	h.producer.cfg.Interval = 5 * time.Millisecond
	h.add(t, alice.tx(t, 0, 5, genesisTime+3600))

	done := make(chan struct{})
	go func() {
		h.producer.Start(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for h.ledger.LatestVersion() == 0 {
		select {
		case <-deadline:
			t.Fatal("producer never committed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.producer.Stop()
	<-done
}
