package ledger

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/ethereum/go-ethereum/triedb/hashdb"
)

// stateStore holds the account state tries of every retained version.
type stateStore struct {
	disk    ethdb.Database   // low-level key-value store (Pebble)
	trieDB  *triedb.Database // trie database (caching + commit)
	stateDB state.Database
	logger  log.Logger
}

// newStateStore opens or creates a persistent state database under dataDir.
// If dataDir is empty, an in-memory database is used.
func newStateStore(dataDir string) (*stateStore, error) {
	logger := log.New("module", "statestore")

	var disk ethdb.Database
	var err error

	if dataDir == "" {
		disk = rawdb.NewMemoryDatabase()
		logger.Info("Using in-memory state database")
	} else {
		path := filepath.Join(dataDir, "ledgerdata")
		disk, err = rawdb.NewPebbleDBDatabase(path, 256, 256, "", false, false)
		if err != nil {
			return nil, fmt.Errorf("open pebble db: %w", err)
		}
		logger.Info("State database opened", "path", path)
	}

	// Hash scheme keeps every committed root readable, which historical proofs need.
	tdb := triedb.NewDatabase(disk, &triedb.Config{
		HashDB: &hashdb.Config{
			CleanCacheSize: 64 * 1024 * 1024,
		},
	})

	return &stateStore{
		disk:    disk,
		trieDB:  tdb,
		stateDB: state.NewDatabaseWithNodeDB(disk, tdb),
		logger:  logger,
	}, nil
}

// openState returns a new StateDB rooted at the given state root.
func (s *stateStore) openState(root common.Hash) (*state.StateDB, error) {
	sdb, err := state.New(root, s.stateDB, nil)
	if err != nil {
		return nil, fmt.Errorf("open state at root %s: %w", root.Hex(), err)
	}
	return sdb, nil
}

// commitState finalizes the state changes and writes the trie to disk.
func (s *stateStore) commitState(sdb *state.StateDB, version uint64) (common.Hash, error) {
	root, err := sdb.Commit(version, true)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	if err := s.trieDB.Commit(root, false); err != nil {
		return common.Hash{}, fmt.Errorf("commit trie: %w", err)
	}

	s.logger.Debug("State committed", "root", root.Hex(), "version", version)
	return root, nil
}

// proveAccount returns the trie encoding of addr under root (nil when the
// account does not exist) and the Merkle proof nodes for its key.
func (s *stateStore) proveAccount(root common.Hash, addr common.Address) ([]byte, [][]byte, error) {
	tr, err := trie.NewStateTrie(trie.StateTrieID(root), s.trieDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open trie at %s: %w", root.Hex(), err)
	}
	acct, err := tr.GetAccount(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("read account %s: %w", addr.Hex(), err)
	}
	var blob []byte
	if acct != nil {
		if blob, err = encodeAccount(acct); err != nil {
			return nil, nil, err
		}
	}
	var nodes proofList
	if err := tr.Prove(crypto.Keccak256(addr.Bytes()), &nodes); err != nil {
		return nil, nil, fmt.Errorf("prove account %s: %w", addr.Hex(), err)
	}
	return blob, nodes, nil
}

// close gracefully closes the state store.
func (s *stateStore) close() error {
	if err := s.trieDB.Close(); err != nil {
		return err
	}
	return s.disk.Close()
}

// proofList collects proof nodes in the order the trie emits them.
type proofList [][]byte

func (n *proofList) Put(key []byte, value []byte) error {
	*n = append(*n, value)
	return nil
}

func (n *proofList) Delete(key []byte) error {
	return fmt.Errorf("proof list is append-only")
}

var _ ethdb.KeyValueWriter = (*proofList)(nil)

func encodeAccount(acct *gethtypes.StateAccount) ([]byte, error) {
	blob, err := rlp.EncodeToBytes(acct)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return blob, nil
}
