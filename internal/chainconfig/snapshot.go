// Package chainconfig holds the on-chain configuration read by the validator.
// Snapshots are immutable; a refresh publishes a new snapshot atomically.
package chainconfig

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/internal/genesis"
)

// Snapshot is a read-only view of the on-chain configuration.
type Snapshot struct {
	ChainID uint64
	// Version is the ledger version the snapshot was taken at.
	Version uint64

	OpenScripts       bool
	ModulePublishing  bool
	WriteSetAuthority common.Address

	MinTransactionGas uint64
	MaxTransactionGas uint64
	MinGasUnitPrice   uint64
	MaxGasUnitPrice   uint64

	allowlist map[common.Hash]struct{}
}

// FromGenesis builds the version 0 snapshot.
func FromGenesis(gen *genesis.Genesis) *Snapshot {
	s := &Snapshot{
		ChainID:           gen.ChainID,
		OpenScripts:       gen.VM.OpenScripts,
		ModulePublishing:  gen.VM.ModulePublishing,
		WriteSetAuthority: gen.VM.WriteSetAuthority,
		MinTransactionGas: gen.VM.MinTransactionGas,
		MaxTransactionGas: gen.VM.MaxTransactionGas,
		MinGasUnitPrice:   gen.VM.MinGasUnitPrice,
		MaxGasUnitPrice:   gen.VM.MaxGasUnitPrice,
		allowlist:         make(map[common.Hash]struct{}, len(gen.VM.ScriptAllowlist)),
	}
	for _, h := range gen.VM.ScriptAllowlist {
		s.allowlist[h] = struct{}{}
	}
	return s
}

// ScriptAllowed reports whether a script with the given program hash may run.
func (s *Snapshot) ScriptAllowed(programHash common.Hash) bool {
	if s.OpenScripts {
		return true
	}
	_, ok := s.allowlist[programHash]
	return ok
}

// WithMinGasUnitPrice returns a copy of s with a new gas price floor, clamped
// to the configured maximum. The allowlist is shared since neither copy mutates it.
func (s *Snapshot) WithMinGasUnitPrice(price uint64, version uint64) *Snapshot {
	next := *s
	if price > next.MaxGasUnitPrice {
		price = next.MaxGasUnitPrice
	}
	next.MinGasUnitPrice = price
	next.Version = version
	return &next
}

// Store publishes the current snapshot to concurrent readers.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	logger log.Logger
}

// NewStore creates a store holding initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{logger: log.New("module", "chainconfig")}
	s.cur.Store(initial)
	return s
}

// Load returns the current snapshot. Callers must not mutate it.
func (s *Store) Load() *Snapshot {
	return s.cur.Load()
}

// Publish replaces the current snapshot.
func (s *Store) Publish(next *Snapshot) {
	if next == nil {
		return
	}
	prev := s.cur.Swap(next)
	s.logger.Debug("Chain config refreshed",
		"version", next.Version,
		"minGasUnitPrice", next.MinGasUnitPrice,
		"prevVersion", prev.Version,
	)
}

// Update derives a new snapshot from the current one and publishes it,
// retrying if another refresh won the race.
func (s *Store) Update(fn func(*Snapshot) *Snapshot) *Snapshot {
	for {
		prev := s.cur.Load()
		next := fn(prev)
		if next == nil {
			return prev
		}
		if s.cur.CompareAndSwap(prev, next) {
			return next
		}
	}
}
