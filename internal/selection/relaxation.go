package selection

import (
	"math/big"
	"sort"
)

// The LP relaxation of the encoded MILP. With fee and tx_vbytes continuous,
// the fee variable is driven onto fee = rate·(fixed_vb + Σ x·vb) by the
// minimisation, and the funding constraint collapses to a single linear
// inequality over the x_i:
//
//	Σ x_i·(value_i − rate·vb_i) ≥ target + min_change + rate·fixed_vb − (fixed-in value)
//
// with objective min Σ x_i·vb_i. That is a fractional knapsack: sort the
// net-funding-positive candidates by vbytes per funding unit and fill
// greedily; the basic optimum has at most one fractional variable.
//
// Everything is scaled to integers (sats·10¹², i.e. micro-sats times
// micro-vbytes) and compared with big.Int so the bound is exact. The
// Σ x_i ≥ 1 cardinality constraint is dropped from the relaxation — the
// bound stays admissible, and integer feasibility enforces it.

// lpScale is the funding-constraint scale: sats × 10¹².
var lpScale = big.NewInt(1_000_000_000_000)

const nodeFree = int8(-1)

type lpSolution struct {
	feasible bool
	feeLB    int64 // valid lower bound on fee_sats for any integer solution at this node
	vbLB     int64 // valid lower bound on tx_vbytes
	integral bool
	// branchIdx is the index of the single fractional candidate. The basic
	// optimum of a one-constraint LP has at most one fractional variable,
	// so "largest fractional part" degenerates to this one index.
	branchIdx int
	mask      []bool // set only when integral: fixed-in plus fully taken candidates
}

type relaxation struct {
	rateMicro  int64
	fixedMicro int64 // sizing template, micro-vbytes
	targetSats int64
	minChange  int64

	values  []int64
	vbMicro []int64
	// weights[i] = value_i·10¹² − rateMicro·vbMicro_i: the candidate's net
	// funding contribution at the continuous fee rate, in the lpScale unit.
	weights []*big.Int
	// order lists the candidates with positive net funding, cheapest
	// vbytes-per-funding first. Ties break toward higher value_sats, then
	// lower input index, so the search is fully deterministic.
	order []int
}

func newRelaxation(m *Model) *relaxation {
	p := m.Params()
	n := len(m.utxos)

	r := &relaxation{
		rateMicro:  int64(p.FeeRateSatPerVB),
		fixedMicro: int64(p.Sizing.FixedVBytes()),
		targetSats: p.TargetSats,
		minChange:  p.MinChangeSats,
		values:     make([]int64, n),
		vbMicro:    make([]int64, n),
		weights:    make([]*big.Int, n),
	}

	rate := big.NewInt(r.rateMicro)
	for i, u := range m.utxos {
		r.values[i] = u.ValueSats
		r.vbMicro[i] = int64(u.InputVBytes)

		w := big.NewInt(u.ValueSats)
		w.Mul(w, lpScale)
		cost := big.NewInt(r.vbMicro[i])
		cost.Mul(cost, rate)
		w.Sub(w, cost)
		r.weights[i] = w

		if w.Sign() > 0 {
			r.order = append(r.order, i)
		}
	}

	sort.SliceStable(r.order, func(a, b int) bool {
		i, j := r.order[a], r.order[b]
		// vb_i/W_i < vb_j/W_j without division: cross-multiply.
		lhs := new(big.Int).Mul(big.NewInt(r.vbMicro[i]), r.weights[j])
		rhs := new(big.Int).Mul(big.NewInt(r.vbMicro[j]), r.weights[i])
		switch lhs.Cmp(rhs) {
		case -1:
			return true
		case 1:
			return false
		}
		if r.values[i] != r.values[j] {
			return r.values[i] > r.values[j]
		}
		return i < j
	})

	return r
}

// solve computes the node relaxation under the branching assignment
// (fixed[i] ∈ {0, 1, nodeFree}).
func (r *relaxation) solve(fixed []int8) lpSolution {
	var valFixed, vbFixedMicro int64
	for i, f := range fixed {
		if f == 1 {
			valFixed += r.values[i]
			vbFixedMicro += r.vbMicro[i]
		}
	}

	// Required net funding from the free candidates, in lpScale units.
	need := big.NewInt(r.targetSats + r.minChange - valFixed)
	need.Mul(need, lpScale)
	fixedCost := big.NewInt(r.fixedMicro + vbFixedMicro)
	fixedCost.Mul(fixedCost, big.NewInt(r.rateMicro))
	need.Add(need, fixedCost)

	baseMicro := r.fixedMicro + vbFixedMicro

	if need.Sign() <= 0 {
		// Fixed-in candidates already fund everything: the LP takes no
		// free candidate at all.
		return r.finishIntegral(fixed, baseMicro, -1)
	}

	acc := new(big.Int)
	fullVbMicro := int64(0)
	for _, idx := range r.order {
		if fixed[idx] != nodeFree {
			continue
		}
		prev := new(big.Int).Set(acc)
		acc.Add(acc, r.weights[idx])

		if acc.Cmp(need) < 0 {
			fullVbMicro += r.vbMicro[idx]
			continue
		}
		if acc.Cmp(need) == 0 {
			fullVbMicro += r.vbMicro[idx]
			return r.finishIntegral(fixed, baseMicro+fullVbMicro, idx)
		}

		// Fractional boundary candidate: x = rem / W.
		rem := new(big.Int).Sub(need, prev)
		numer := big.NewInt(baseMicro + fullVbMicro)
		numer.Mul(numer, r.weights[idx])
		frac := new(big.Int).Mul(big.NewInt(r.vbMicro[idx]), rem)
		numer.Add(numer, frac)
		denom := new(big.Int).Mul(big.NewInt(1_000_000), r.weights[idx])

		vbLB := ceilBigDiv(numer, denom)
		return lpSolution{
			feasible:  true,
			vbLB:      vbLB,
			feeLB:     r.feeFloor(vbLB),
			branchIdx: idx,
		}
	}

	return lpSolution{feasible: false}
}

func (r *relaxation) finishIntegral(fixed []int8, totalMicro int64, last int) lpSolution {
	vbLB := ceilDiv64(totalMicro, 1_000_000)
	mask := make([]bool, len(fixed))
	for i, f := range fixed {
		mask[i] = f == 1
	}
	if last >= 0 {
		mask[last] = true
		// Everything before `last` in efficiency order that was free is
		// fully taken too.
		for _, idx := range r.order {
			if idx == last {
				break
			}
			if fixed[idx] == nodeFree {
				mask[idx] = true
			}
		}
	}
	return lpSolution{
		feasible:  true,
		vbLB:      vbLB,
		feeLB:     r.feeFloor(vbLB),
		integral:  true,
		branchIdx: -1,
		mask:      mask,
	}
}

// feeFloor lifts an integer vbyte lower bound to a fee lower bound:
// fee ≥ ceil(rate · tx_vbytes) is monotone in tx_vbytes.
func (r *relaxation) feeFloor(vbLB int64) int64 {
	numer := new(big.Int).Mul(big.NewInt(r.rateMicro), big.NewInt(vbLB))
	return ceilBigDiv(numer, big.NewInt(1_000_000))
}

// firstFreeBranch picks the branching candidate when the node relaxation
// is integral but its rounding-exact evaluation is not acceptable: the
// most efficient still-free candidate, falling back to the lowest free
// index when only net-negative candidates remain.
func (r *relaxation) firstFreeBranch(fixed []int8) int {
	for _, idx := range r.order {
		if fixed[idx] == nodeFree {
			return idx
		}
	}
	for i, f := range fixed {
		if f == nodeFree {
			return i
		}
	}
	return -1
}

func ceilBigDiv(a, b *big.Int) int64 {
	q, m := new(big.Int).DivMod(a, b, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

func ceilDiv64(a, b int64) int64 {
	return (a + b - 1) / b
}
