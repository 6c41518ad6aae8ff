package fees

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

const bps = 10_000

// PriceModel tracks the minimum gas unit price the validator enforces.
//
// The price adjusts like an EIP-1559 base fee: it rises when committed
// blocks are more than half full and falls when they are less, through an
// exponential moving average of utilisation. Each step moves it by at most
// 12.5%, and never outside [floor, ceiling].
type PriceModel struct {
	mu sync.RWMutex

	price   *uint256.Int
	floor   *uint256.Int
	ceiling *uint256.Int

	targetUsage float64 // 0.5 = 50% utilisation target
	emaUsage    float64
	emaAlpha    float64

	logger log.Logger
}

// NewPriceModel creates a model starting at start, clamped to [floor, ceiling].
func NewPriceModel(start, floor, ceiling uint64) *PriceModel {
	if ceiling < floor {
		ceiling = floor
	}
	m := &PriceModel{
		price:       uint256.NewInt(start),
		floor:       uint256.NewInt(floor),
		ceiling:     uint256.NewInt(ceiling),
		targetUsage: 0.5,
		emaUsage:    0.5,
		emaAlpha:    0.125,
		logger:      log.New("module", "fees"),
	}
	m.clampLocked()
	return m
}

// MinGasUnitPrice returns the current price floor for admission.
func (m *PriceModel) MinGasUnitPrice() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.price.Uint64()
}

// AdjustAfterBlock updates the price from the gas used by the latest block
// and returns the new value. Called by the producer after each commit round.
func (m *PriceModel) AdjustAfterBlock(gasUsed, gasLimit uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gasLimit == 0 {
		return m.price.Uint64()
	}
	utilization := float64(gasUsed) / float64(gasLimit)
	m.emaUsage = m.emaAlpha*utilization + (1-m.emaAlpha)*m.emaUsage

	delta := (m.emaUsage - m.targetUsage) / m.targetUsage
	if delta > 0.125 {
		delta = 0.125
	} else if delta < -0.125 {
		delta = -0.125
	}

	pct := delta * bps
	if pct < 0 {
		pct = -pct
	}
	adjustment := new(uint256.Int).Mul(m.price, uint256.NewInt(uint64(pct)))
	adjustment.Div(adjustment, uint256.NewInt(bps))

	switch {
	case delta > 0:
		// Small prices would never move with integer rounding.
		if adjustment.IsZero() {
			adjustment.SetOne()
		}
		m.price.Add(m.price, adjustment)
	case delta < 0:
		if adjustment.Cmp(m.price) > 0 {
			m.price.Clear()
		} else {
			m.price.Sub(m.price, adjustment)
		}
	}
	m.clampLocked()

	m.logger.Debug("Gas price adjusted",
		"minGasUnitPrice", m.price.Uint64(),
		"emaUsage", m.emaUsage,
		"gasUsed", gasUsed,
		"gasLimit", gasLimit,
	)
	return m.price.Uint64()
}

func (m *PriceModel) clampLocked() {
	if m.price.Lt(m.floor) {
		m.price.Set(m.floor)
	}
	if m.price.Gt(m.ceiling) {
		m.price.Set(m.ceiling)
	}
}

// Stats returns fee model statistics.
func (m *PriceModel) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		MinGasUnitPrice: m.price.Uint64(),
		Floor:           m.floor.Uint64(),
		Ceiling:         m.ceiling.Uint64(),
		EMAUsage:        m.emaUsage,
		TargetUsage:     m.targetUsage,
	}
}

// Stats contains fee model metrics.
type Stats struct {
	MinGasUnitPrice uint64  `json:"minGasUnitPrice"`
	Floor           uint64  `json:"floor"`
	Ceiling         uint64  `json:"ceiling"`
	EMAUsage        float64 `json:"emaUsage"`
	TargetUsage     float64 `json:"targetUsage"`
}
