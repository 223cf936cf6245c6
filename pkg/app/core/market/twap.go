package market

import (
	"github.com/holiman/uint256"

	"github.com/standardweb3/standard-substrate-sub001/pkg/app/core/asset"
)

// Accumulator tracks cumulative pair prices for time-weighted averages.
// Prices are encoded in UQ112x112 fixed point (price << 112) and multiplied
// by elapsed seconds, Uniswap V2 style: a consumer computes a TWAP from the
// difference of two observations divided by the elapsed time.
type Accumulator struct {
	// Price0Cumulative accumulates reserve1/reserve0 (price of token0 in
	// token1), Price1Cumulative the inverse.
	Price0Cumulative *uint256.Int `json:"price0Cumulative"`
	Price1Cumulative *uint256.Int `json:"price1Cumulative"`

	// LastTimestamp is the Unix second of the last advance.
	LastTimestamp int64 `json:"lastTimestamp"`
}

func newAccumulator(now int64) *Accumulator {
	return &Accumulator{
		Price0Cumulative: uint256.NewInt(0),
		Price1Cumulative: uint256.NewInt(0),
		LastTimestamp:    now,
	}
}

func (a *Accumulator) clone() *Accumulator {
	return &Accumulator{
		Price0Cumulative: new(uint256.Int).Set(a.Price0Cumulative),
		Price1Cumulative: new(uint256.Int).Set(a.Price1Cumulative),
		LastTimestamp:    a.LastTimestamp,
	}
}

// advance folds the price observed over [LastTimestamp, now] into the
// cumulative sums. Called with the reserves as they stood BEFORE the
// mutation that triggered it, so each interval is weighted by the price
// that actually held during it. No-op when no time has passed or a reserve
// is empty.
func (a *Accumulator) advance(reserve0, reserve1 asset.Balance, now int64) {
	elapsed := now - a.LastTimestamp
	if elapsed <= 0 {
		return
	}
	a.LastTimestamp = now
	if reserve0 == 0 || reserve1 == 0 {
		return
	}

	e := uint256.NewInt(uint64(elapsed))

	// price0 = (reserve1 << 112) / reserve0, weighted by elapsed seconds
	var p0 uint256.Int
	p0.Lsh(uint256.NewInt(reserve1), 112)
	p0.Div(&p0, uint256.NewInt(reserve0))
	p0.Mul(&p0, e)
	a.Price0Cumulative.Add(a.Price0Cumulative, &p0)

	var p1 uint256.Int
	p1.Lsh(uint256.NewInt(reserve0), 112)
	p1.Div(&p1, uint256.NewInt(reserve1))
	p1.Mul(&p1, e)
	a.Price1Cumulative.Add(a.Price1Cumulative, &p1)
}

// Observation is a point-in-time copy of an accumulator, serialized with
// decimal strings for API consumers.
type Observation struct {
	LPToken          asset.ID `json:"lpToken"`
	Price0Cumulative string   `json:"price0Cumulative"`
	Price1Cumulative string   `json:"price1Cumulative"`
	LastTimestamp    int64    `json:"lastTimestamp"`
}

func (a *Accumulator) observation(lpt asset.ID) Observation {
	return Observation{
		LPToken:          lpt,
		Price0Cumulative: a.Price0Cumulative.Dec(),
		Price1Cumulative: a.Price1Cumulative.Dec(),
		LastTimestamp:    a.LastTimestamp,
	}
}
