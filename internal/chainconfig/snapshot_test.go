package chainconfig

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-gateway/internal/genesis"
)

func TestSnapshot_ScriptAllowed(t *testing.T) {
	allowed := common.HexToHash("0x01")
	gen := genesis.DefaultGenesis()
	gen.VM.OpenScripts = false
	gen.VM.ScriptAllowlist = []common.Hash{allowed}

	s := FromGenesis(gen)
	require.True(t, s.ScriptAllowed(allowed))
	require.False(t, s.ScriptAllowed(common.HexToHash("0x02")))

	gen.VM.OpenScripts = true
	require.True(t, FromGenesis(gen).ScriptAllowed(common.HexToHash("0x02")))
}

func TestSnapshot_WithMinGasUnitPrice(t *testing.T) {
	s := FromGenesis(genesis.DefaultGenesis())
	orig := s.MinGasUnitPrice

	next := s.WithMinGasUnitPrice(50, 3)
	require.Equal(t, uint64(50), next.MinGasUnitPrice)
	require.Equal(t, uint64(3), next.Version)
	require.Equal(t, orig, s.MinGasUnitPrice, "original snapshot must not change")

	clamped := s.WithMinGasUnitPrice(s.MaxGasUnitPrice+1, 4)
	require.Equal(t, s.MaxGasUnitPrice, clamped.MinGasUnitPrice)
}

func TestStore_PublishAndUpdate(t *testing.T) {
	store := NewStore(FromGenesis(genesis.DefaultGenesis()))
	first := store.Load()

	store.Publish(first.WithMinGasUnitPrice(7, 1))
	require.Equal(t, uint64(7), store.Load().MinGasUnitPrice)
	require.Equal(t, genesis.DefaultVMConfig().MinGasUnitPrice, first.MinGasUnitPrice)

	store.Publish(nil)
	require.Equal(t, uint64(7), store.Load().MinGasUnitPrice)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Update(func(s *Snapshot) *Snapshot {
				return s.WithMinGasUnitPrice(s.MinGasUnitPrice+1, s.Version+1)
			})
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(7+32), store.Load().MinGasUnitPrice)
	require.Equal(t, uint64(1+32), store.Load().Version)
}
