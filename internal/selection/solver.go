package selection

import (
	"log"
	"time"

	"github.com/rawblock/coinselect-engine/pkg/models"
)

// DefaultTimeLimitSeconds bounds a solve when the caller does not pick a
// limit.
const DefaultTimeLimitSeconds = 10

// Solver runs integer branch-and-bound on a selection model. It holds no
// state between calls — a single value can be shared freely, and
// concurrent solves on independent models do not interfere.
type Solver struct {
	TimeLimitSeconds int
}

// NewSolver returns a solver with the given wall-clock budget in seconds.
// Non-positive values fall back to DefaultTimeLimitSeconds.
func NewSolver(timeLimitSeconds int) Solver {
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = DefaultTimeLimitSeconds
	}
	return Solver{TimeLimitSeconds: timeLimitSeconds}
}

// Solve searches for the minimum-fee feasible selection.
//
// The search is depth-first over the binary selection variables, diving
// into the x=1 branch first so an incumbent appears early. Each node
// solves the LP relaxation; a node is dropped when the relaxation is
// infeasible or when its fee bound cannot beat the incumbent (equal-fee
// nodes survive only while they could still shrink tx_vbytes, which is
// the sole secondary objective). An integral relaxation is evaluated
// under the exact ceiling rules — if the rounded fee still fits the
// funding constraint it becomes the incumbent and the node closes;
// otherwise the node keeps branching, because rounding can exclude the
// relaxation's pick without excluding its siblings.
//
// For a fixed input and a non-expiring limit the result is bit-identical
// across runs: branching order, the efficiency ordering, and the
// incumbent tie-break are all deterministic.
func (s Solver) Solve(m *Model) (models.SelectionResult, error) {
	if m == nil {
		return models.SelectionResult{}, invalidInputf("model is nil")
	}

	limit := s.TimeLimitSeconds
	if limit <= 0 {
		limit = DefaultTimeLimitSeconds
	}

	st := &searchState{
		model:    m,
		relax:    newRelaxation(m),
		fixed:    make([]int8, len(m.utxos)),
		deadline: time.Now().Add(time.Duration(limit) * time.Second),
	}
	for i := range st.fixed {
		st.fixed[i] = nodeFree
	}

	st.expand()

	if !st.best.found {
		if st.timedOut {
			log.Printf("[Solver] time limit (%ds) hit before any feasible selection (n=%d)", limit, len(m.utxos))
			return models.SelectionResult{}, ErrTimeout
		}
		return models.SelectionResult{}, ErrInfeasible
	}
	if st.timedOut {
		log.Printf("[Solver] time limit (%ds) hit, returning best incumbent (fee=%d sats)", limit, st.best.feeSats)
	}

	return s.buildResult(m, st.best.mask)
}

type incumbent struct {
	found    bool
	mask     []bool
	feeSats  int64
	txVbytes int64
}

type searchState struct {
	model    *Model
	relax    *relaxation
	fixed    []int8
	deadline time.Time
	best     incumbent
	timedOut bool
}

func (st *searchState) expand() {
	if st.timedOut {
		return
	}
	if time.Now().After(st.deadline) {
		st.timedOut = true
		return
	}

	sol := st.relax.solve(st.fixed)
	if !sol.feasible {
		return
	}
	if st.best.found {
		if sol.feeLB > st.best.feeSats {
			return
		}
		if sol.feeLB == st.best.feeSats && sol.vbLB >= st.best.txVbytes {
			return
		}
	}

	if sol.integral {
		if st.tryIncumbent(sol.mask) {
			return
		}
		// The relaxation's pick fails the exact ceiling check (change
		// dips under the dust floor once the fee rounds up). No variable
		// is fractional, so branch on the best still-free candidate.
		branch := st.relax.firstFreeBranch(st.fixed)
		if branch < 0 {
			return
		}
		st.branch(branch)
		return
	}

	st.branch(sol.branchIdx)
}

func (st *searchState) branch(idx int) {
	st.fixed[idx] = 1
	st.expand()
	st.fixed[idx] = 0
	st.expand()
	st.fixed[idx] = nodeFree
}

// tryIncumbent evaluates a fully integral candidate mask under the exact
// fee rules. Returns true when the node is closed: either the candidate
// was accepted, or nothing in the subtree can beat the incumbent.
func (st *searchState) tryIncumbent(mask []bool) bool {
	feeSats, txVbytes, ok := st.model.evaluateMask(mask)
	if !ok {
		// Empty selection: at least one input is required.
		return false
	}
	p := st.model.Params()
	change := st.model.totalValue(mask) - p.TargetSats - feeSats
	if change < p.MinChangeSats {
		return false
	}

	if !st.best.found ||
		feeSats < st.best.feeSats ||
		(feeSats == st.best.feeSats && txVbytes < st.best.txVbytes) {
		cp := make([]bool, len(mask))
		copy(cp, mask)
		st.best = incumbent{found: true, mask: cp, feeSats: feeSats, txVbytes: txVbytes}
	}
	return true
}

// buildResult reconstructs the SelectionResult from the winning mask,
// recomputing fee and vbytes through the model (the LP bookkeeping is
// never the source of truth) and re-checking that the size and fee are
// non-degenerate, the conservation identity holds and change clears the
// dust floor. A violation here is a solver bug and fails loudly.
func (s Solver) buildResult(m *Model, mask []bool) (models.SelectionResult, error) {
	selected := make([]models.UTXO, 0, len(mask))
	for i, take := range mask {
		if take {
			selected = append(selected, m.utxos[i])
		}
	}

	feeSats, txVbytes, err := m.EvaluateFeeAndVbytes(selected)
	if err != nil {
		return models.SelectionResult{}, inconsistentf("winning mask is empty")
	}

	p := m.Params()
	var totalIn int64
	for _, u := range selected {
		totalIn += u.ValueSats
	}
	changeSats := totalIn - p.TargetSats - feeSats

	if txVbytes < 1 || feeSats < 1 {
		return models.SelectionResult{}, inconsistentf(
			"degenerate result: tx_vbytes=%d fee_sats=%d", txVbytes, feeSats)
	}
	if changeSats < p.MinChangeSats {
		return models.SelectionResult{}, inconsistentf(
			"change %d sats below minimum %d", changeSats, p.MinChangeSats)
	}
	if totalIn != p.TargetSats+feeSats+changeSats {
		return models.SelectionResult{}, inconsistentf(
			"conservation violated: in=%d target=%d fee=%d change=%d",
			totalIn, p.TargetSats, feeSats, changeSats)
	}

	return models.SelectionResult{
		Selected:   selected,
		ChangeSats: changeSats,
		FeeSats:    feeSats,
		TxVBytes:   txVbytes,
	}, nil
}
