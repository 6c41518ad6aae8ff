package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// Key prefixes for the ledger database.
var (
	prefixTx         = []byte("lt") // lt + version -> transaction bytes
	prefixInfo       = []byte("li") // li + version -> TransactionInfo (RLP)
	prefixTimestamp  = []byte("lm") // lm + version -> timestamp
	prefixSeqIndex   = []byte("ls") // ls + sender + seq -> version
	keyLatestVersion = []byte("ledger-latest-version")
	keyPruneFloor    = []byte("ledger-prune-floor")
)

// versionRecord is everything written for one committed version.
type versionRecord struct {
	info      types.TransactionInfo
	tx        []byte
	timestamp uint64
	key       *types.TxKey // nil for genesis
}

// chainDB stores the per-version records next to the state tries.
type chainDB struct {
	db ethdb.Database
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func versionKey(prefix []byte, version uint64) []byte {
	return append(append([]byte{}, prefix...), encodeUint64(version)...)
}

func seqKey(sender common.Address, seq uint64) []byte {
	k := append(append([]byte{}, prefixSeqIndex...), sender.Bytes()...)
	return append(k, encodeUint64(seq)...)
}

func (c *chainDB) writeVersion(rec *versionRecord) error {
	infoRLP, err := rlp.EncodeToBytes(&rec.info)
	if err != nil {
		return fmt.Errorf("encode info %d: %w", rec.info.Version, err)
	}

	v := rec.info.Version
	batch := c.db.NewBatch()
	batch.Put(versionKey(prefixTx, v), rec.tx)
	batch.Put(versionKey(prefixInfo, v), infoRLP)
	batch.Put(versionKey(prefixTimestamp, v), encodeUint64(rec.timestamp))
	if rec.key != nil {
		batch.Put(seqKey(rec.key.Sender, rec.key.SequenceNumber), encodeUint64(v))
	}
	batch.Put(keyLatestVersion, encodeUint64(v))

	if err := batch.Write(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (c *chainDB) readInfo(version uint64) (*types.TransactionInfo, error) {
	data, err := c.db.Get(versionKey(prefixInfo, version))
	if err != nil {
		return nil, fmt.Errorf("%w: info %d", ErrVersionNotFound, version)
	}
	var info types.TransactionInfo
	if err := rlp.DecodeBytes(data, &info); err != nil {
		return nil, fmt.Errorf("decode info %d: %w", version, err)
	}
	return &info, nil
}

func (c *chainDB) readTransaction(version uint64) ([]byte, error) {
	data, err := c.db.Get(versionKey(prefixTx, version))
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %d", ErrVersionPruned, version)
	}
	return data, nil
}

func (c *chainDB) readTimestamp(version uint64) (uint64, error) {
	data, err := c.db.Get(versionKey(prefixTimestamp, version))
	if err != nil || len(data) != 8 {
		return 0, fmt.Errorf("%w: timestamp %d", ErrVersionNotFound, version)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (c *chainDB) readVersionBySequence(sender common.Address, seq uint64) (uint64, bool) {
	data, err := c.db.Get(seqKey(sender, seq))
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

func (c *chainDB) readUint64(key []byte) (uint64, bool) {
	data, err := c.db.Get(key)
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// prune drops the transaction bodies in [from, to) and records the new floor.
// Infos stay because they are accumulator leaves.
func (c *chainDB) prune(from, to uint64) error {
	batch := c.db.NewBatch()
	for v := from; v < to; v++ {
		batch.Delete(versionKey(prefixTx, v))
	}
	batch.Put(keyPruneFloor, encodeUint64(to))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("prune [%d, %d): %w", from, to, err)
	}
	return nil
}
