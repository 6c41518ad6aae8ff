package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Genesis is the initial ledger state plus the on-chain VM configuration in
// force at version 0.
type Genesis struct {
	ChainID   uint64                    `json:"chainId"`
	Timestamp uint64                    `json:"timestamp"`
	Alloc     map[string]GenesisAccount `json:"alloc"`
	VM        VMConfig                  `json:"vm"`
}

// GenesisAccount represents a pre-funded account in genesis.
type GenesisAccount struct {
	Balance        string `json:"balance"`
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`
}

// VMConfig is the on-chain publishing and gas configuration.
type VMConfig struct {
	// ScriptAllowlist holds the program hashes of the scripts that may run.
	// Ignored when OpenScripts is set.
	ScriptAllowlist   []common.Hash  `json:"scriptAllowlist"`
	OpenScripts       bool           `json:"openScripts"`
	ModulePublishing  bool           `json:"modulePublishing"`
	WriteSetAuthority common.Address `json:"writeSetAuthority"`

	MinTransactionGas uint64 `json:"minTransactionGas"`
	MaxTransactionGas uint64 `json:"maxTransactionGas"`
	MinGasUnitPrice   uint64 `json:"minGasUnitPrice"`
	MaxGasUnitPrice   uint64 `json:"maxGasUnitPrice"`
}

// LoadGenesis reads and parses a genesis.json file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}

	var gen Genesis
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := gen.VM.Validate(); err != nil {
		return nil, fmt.Errorf("genesis vm config: %w", err)
	}

	return &gen, nil
}

// DefaultGenesis returns the devnet genesis.
func DefaultGenesis() *Genesis {
	return &Genesis{
		ChainID: 42069,
		Alloc: map[string]GenesisAccount{
			"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266": {Balance: "0x21E19E0C9BAB2400000"},
			"0x70997970C51812dc3A010C7d01b50e0d17dc79C8": {Balance: "0x21E19E0C9BAB2400000"},
			"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC": {Balance: "0x21E19E0C9BAB2400000"},
			"0x90F79bf6EB2c4f870365E785982E1f101E93b906": {Balance: "0x152D02C7E14AF6800000"},
		},
		VM: DefaultVMConfig(),
	}
}

// DefaultVMConfig returns an open devnet configuration.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		OpenScripts:       true,
		ModulePublishing:  true,
		WriteSetAuthority: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		MinTransactionGas: 600,
		MaxTransactionGas: 2_000_000,
		MinGasUnitPrice:   1,
		MaxGasUnitPrice:   10_000,
	}
}

// Validate checks the gas bounds are well formed.
func (c *VMConfig) Validate() error {
	if c.MaxTransactionGas == 0 || c.MinTransactionGas > c.MaxTransactionGas {
		return fmt.Errorf("invalid transaction gas bounds [%d, %d]", c.MinTransactionGas, c.MaxTransactionGas)
	}
	if c.MaxGasUnitPrice == 0 || c.MinGasUnitPrice > c.MaxGasUnitPrice {
		return fmt.Errorf("invalid gas unit price bounds [%d, %d]", c.MinGasUnitPrice, c.MaxGasUnitPrice)
	}
	return nil
}

// Encode returns the canonical bytes recorded as the version 0 transaction.
func (g *Genesis) Encode() ([]byte, error) {
	return json.Marshal(g)
}

// InitializeState applies the genesis allocations to a fresh StateDB.
// Returns the state root after all allocations are applied.
func (g *Genesis) InitializeState(sdb *state.StateDB) (common.Hash, error) {
	logger := log.New("module", "genesis")
	logger.Info("Initializing genesis state", "accounts", len(g.Alloc))

	for addrHex, account := range g.Alloc {
		if !common.IsHexAddress(addrHex) {
			return common.Hash{}, fmt.Errorf("invalid genesis address %q", addrHex)
		}
		addr := common.HexToAddress(addrHex)

		balance, ok := new(big.Int).SetString(account.Balance, 0)
		if !ok || balance.Sign() < 0 {
			return common.Hash{}, fmt.Errorf("invalid balance for %s: %s", addrHex, account.Balance)
		}
		balanceU256, overflow := uint256.FromBig(balance)
		if overflow {
			return common.Hash{}, fmt.Errorf("balance overflow for %s", addrHex)
		}
		sdb.AddBalance(addr, balanceU256, tracing.BalanceIncreaseGenesisBalance)

		if account.SequenceNumber > 0 {
			sdb.SetNonce(addr, account.SequenceNumber)
		}

		logger.Debug("Genesis account initialized",
			"address", addr.Hex(),
			"balance", balance.String(),
			"sequence", account.SequenceNumber,
		)
	}

	return sdb.IntermediateRoot(true), nil
}
