// Package gale implements the martingale ("gale") signal state machine:
// one sequence per (symbol, direction), evaluated once per period close,
// escalating through a precomputed stake ladder while losing.
package gale

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUncalibrated is returned when a stake table cannot recover prior
// stakes with a win at some level.
var ErrUncalibrated = errors.New("gale: ladder not calibrated")

var hundred = decimal.NewFromInt(100)

// Ladder maps a gale level to its stake. It is immutable and shared
// read-only by every sequence of one configuration.
type Ladder struct {
	stakes []decimal.Decimal
	prior  []decimal.Decimal // prior[n] = sum of stakes below n
	payout decimal.Decimal
}

// NewLadder computes a calibrated ladder for levels 0..maxLevel.
//
//	stake(0) = base
//	stake(n) = max(ceilCents(prior(n)/payout + base), ceilCents(stake(n-1)*multiplier))
//
// A win at level n therefore nets at least base*payout after refunding
// every prior stake.
func NewLadder(base, payout, multiplier decimal.Decimal, maxLevel int) (*Ladder, error) {
	switch {
	case !base.IsPositive():
		return nil, fmt.Errorf("gale: base stake must be positive, got %s", base)
	case !payout.IsPositive():
		return nil, fmt.Errorf("gale: payout must be positive, got %s", payout)
	case multiplier.LessThan(decimal.NewFromInt(1)):
		return nil, fmt.Errorf("gale: multiplier must be >= 1, got %s", multiplier)
	case maxLevel < 0:
		return nil, fmt.Errorf("gale: max level must be >= 0, got %d", maxLevel)
	}

	stakes := make([]decimal.Decimal, maxLevel+1)
	stakes[0] = base
	prior := decimal.Zero
	for n := 1; n <= maxLevel; n++ {
		prior = prior.Add(stakes[n-1])
		need := ceilCents(prior.DivRound(payout, 10).Add(base))
		esc := ceilCents(stakes[n-1].Mul(multiplier))
		stakes[n] = decimal.Max(need, esc)
	}
	return NewLadderFromStakes(stakes, payout)
}

// NewLadderFromStakes validates an explicit stake table.
func NewLadderFromStakes(stakes []decimal.Decimal, payout decimal.Decimal) (*Ladder, error) {
	if len(stakes) == 0 {
		return nil, fmt.Errorf("gale: empty ladder")
	}
	if !payout.IsPositive() {
		return nil, fmt.Errorf("gale: payout must be positive, got %s", payout)
	}
	l := &Ladder{
		stakes: append([]decimal.Decimal(nil), stakes...),
		prior:  make([]decimal.Decimal, len(stakes)),
		payout: payout,
	}
	sum := decimal.Zero
	for n, s := range l.stakes {
		if !s.IsPositive() {
			return nil, fmt.Errorf("gale: stake at level %d must be positive", n)
		}
		l.prior[n] = sum
		if !s.Mul(payout).GreaterThan(sum) {
			return nil, fmt.Errorf("%w: level %d stake %s * payout %s <= prior %s", ErrUncalibrated, n, s, payout, sum)
		}
		sum = sum.Add(s)
	}
	return l, nil
}

// MaxLevel is the highest gale level.
func (l *Ladder) MaxLevel() int { return len(l.stakes) - 1 }

// Payout is the profit fraction of a winning stake.
func (l *Ladder) Payout() decimal.Decimal { return l.payout }

// Stake returns the stake at level.
func (l *Ladder) Stake(level int) decimal.Decimal { return l.stakes[l.clamp(level)] }

// Prior returns the sum of stakes of all levels below level.
func (l *Ladder) Prior(level int) decimal.Decimal { return l.prior[l.clamp(level)] }

// Invested returns the cumulative stake through level, inclusive.
func (l *Ladder) Invested(level int) decimal.Decimal {
	n := l.clamp(level)
	return l.prior[n].Add(l.stakes[n])
}

// Profit returns the net result of a win at level: the winning stake is
// refunded with payout, every prior stake is lost.
func (l *Ladder) Profit(level int) decimal.Decimal {
	n := l.clamp(level)
	return l.stakes[n].Mul(l.payout).Sub(l.prior[n])
}

// Stakes returns a copy of the stake table.
func (l *Ladder) Stakes() []decimal.Decimal {
	return append([]decimal.Decimal(nil), l.stakes...)
}

func (l *Ladder) clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level >= len(l.stakes) {
		return len(l.stakes) - 1
	}
	return level
}

// ceilCents rounds up to the next cent.
func ceilCents(d decimal.Decimal) decimal.Decimal {
	return d.Mul(hundred).Ceil().Div(hundred)
}
