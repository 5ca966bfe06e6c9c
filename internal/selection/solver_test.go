package selection

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rawblock/coinselect-engine/pkg/models"
)

type objective struct {
	feeSats  int64
	txVbytes int64
}

// bruteForceBest enumerates every subset (n must stay small) under the
// exact evaluation rules and returns the minimum-fee objective, with
// smaller tx_vbytes as the only tie-break. Mirrors what the solver must
// find, independently of its pruning.
func bruteForceBest(t *testing.T, m *Model) (objective, bool) {
	t.Helper()
	utxos := m.Candidates()
	p := m.Params()
	n := len(utxos)
	if n > 16 {
		t.Fatalf("bruteForceBest is exponential; got n=%d", n)
	}

	var best objective
	found := false
	for bits := 1; bits < (1 << n); bits++ {
		var selected []models.UTXO
		var totalIn int64
		for i := 0; i < n; i++ {
			if bits&(1<<i) != 0 {
				selected = append(selected, utxos[i])
				totalIn += utxos[i].ValueSats
			}
		}

		fee, vbytes, err := m.EvaluateFeeAndVbytes(selected)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		change := totalIn - p.TargetSats - fee
		if change < p.MinChangeSats {
			continue
		}

		obj := objective{feeSats: fee, txVbytes: vbytes}
		if !found ||
			obj.feeSats < best.feeSats ||
			(obj.feeSats == best.feeSats && obj.txVbytes < best.txVbytes) {
			best = obj
			found = true
		}
	}
	return best, found
}

func mustModel(t *testing.T, utxos []models.UTXO, params models.SelectionParams) *Model {
	t.Helper()
	m, err := NewModel(utxos, params)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	return m
}

func TestSolve_SingleUTXOHappyPath(t *testing.T) {
	utxo := models.UTXO{Txid: "aa", Vout: 0, ValueSats: 1000, InputVBytes: mustVBytes("68")}
	params := models.SelectionParams{
		TargetSats:      300,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	res, err := NewSolver(5).Solve(mustModel(t, []models.UTXO{utxo}, params))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	if len(res.Selected) != 1 {
		t.Fatalf("Expected 1 selected UTXO. Got: %d", len(res.Selected))
	}
	if res.FeeSats != 140 {
		t.Errorf("Expected fee_sats=140. Got: %d", res.FeeSats)
	}
	if res.ChangeSats != 560 {
		t.Errorf("Expected change_sats=560. Got: %d", res.ChangeSats)
	}
	if res.TxVBytes != 140 {
		t.Errorf("Expected tx_vbytes=140. Got: %d", res.TxVBytes)
	}
	if res.TotalInputSats() != params.TargetSats+res.FeeSats+res.ChangeSats {
		t.Errorf("Conservation identity violated")
	}
}

func TestSolve_InfeasibleTargetTooLarge(t *testing.T) {
	utxo := models.UTXO{Txid: "aa", Vout: 0, ValueSats: 1000, InputVBytes: mustVBytes("68")}
	params := models.SelectionParams{
		TargetSats:      2000,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	_, err := NewSolver(5).Solve(mustModel(t, []models.UTXO{utxo}, params))
	if !errors.Is(err, ErrInfeasible) {
		t.Errorf("Expected ErrInfeasible. Got: %v", err)
	}
}

func TestSolve_InfeasibleDueToMinChange(t *testing.T) {
	// With one 1000 sat input and fee 140, target=860 leaves change=0,
	// which violates min_change=1.
	utxo := models.UTXO{Txid: "aa", Vout: 0, ValueSats: 1000, InputVBytes: mustVBytes("68")}
	params := models.SelectionParams{
		TargetSats:      860,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	_, err := NewSolver(5).Solve(mustModel(t, []models.UTXO{utxo}, params))
	if !errors.Is(err, ErrInfeasible) {
		t.Errorf("Expected ErrInfeasible. Got: %v", err)
	}
}

func TestSolve_UniformInputsSingleCoveringCoin(t *testing.T) {
	// All inputs cost the same 68 vB, so every extra input adds the same
	// fee: the optimum is the single coin that covers the target.
	utxos := []models.UTXO{
		{Txid: "aa", Vout: 0, ValueSats: 30_000, InputVBytes: mustVBytes("68")},
		{Txid: "bb", Vout: 1, ValueSats: 25_000, InputVBytes: mustVBytes("68")},
		{Txid: "cc", Vout: 2, ValueSats: 24_000, InputVBytes: mustVBytes("68")},
		{Txid: "dd", Vout: 3, ValueSats: 20_000, InputVBytes: mustVBytes("68")},
		{Txid: "ee", Vout: 4, ValueSats: 100_000, InputVBytes: mustVBytes("68")},
	}
	params := models.SelectionParams{
		TargetSats:      54_000,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	m := mustModel(t, utxos, params)
	res, err := NewSolver(5).Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	best, ok := bruteForceBest(t, m)
	if !ok {
		t.Fatal("brute force found no feasible subset")
	}
	if res.FeeSats != best.feeSats || res.TxVBytes != best.txVbytes {
		t.Errorf("Solver (fee=%d vb=%d) disagrees with brute force (fee=%d vb=%d)",
			res.FeeSats, res.TxVBytes, best.feeSats, best.txVbytes)
	}

	if len(res.Selected) != 1 || res.Selected[0].ValueSats != 100_000 {
		t.Errorf("Expected the single covering 100k coin. Got: %+v", res.Selected)
	}
	if res.FeeSats != 140 {
		t.Errorf("Expected fee_sats=140. Got: %d", res.FeeSats)
	}
	if res.ChangeSats != 45_860 {
		t.Errorf("Expected change_sats=45860. Got: %d", res.ChangeSats)
	}
}

func TestSolve_PrefersCheaperInputAtEqualValue(t *testing.T) {
	// Same value, different spend cost: the 68 vB input wins over the
	// 148 vB one.
	utxos := []models.UTXO{
		{Txid: "aa", Vout: 0, ValueSats: 10_000, InputVBytes: mustVBytes("148")},
		{Txid: "bb", Vout: 0, ValueSats: 10_000, InputVBytes: mustVBytes("68")},
	}
	params := models.SelectionParams{
		TargetSats:      5_000,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	res, err := NewSolver(5).Solve(mustModel(t, utxos, params))
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if len(res.Selected) != 1 || res.Selected[0].Txid != "bb" {
		t.Errorf("Expected the cheaper 68 vB input to be selected. Got: %+v", res.Selected)
	}
	if res.FeeSats != 140 {
		t.Errorf("Expected fee_sats=140. Got: %d", res.FeeSats)
	}
}

func TestSolve_MixedAboveAndBelowTarget(t *testing.T) {
	// The big 68 vB coin sits just below target; the optimum tops it up
	// with the cheapest small input instead of falling back to the
	// expensive 148 vB coin, the only one that covers target and fee alone.
	utxos := []models.UTXO{
		{Txid: "aa", Vout: 0, ValueSats: 83_200, InputVBytes: mustVBytes("68")},
		{Txid: "bb", Vout: 1, ValueSats: 2_000, InputVBytes: mustVBytes("68")},
		{Txid: "cc", Vout: 2, ValueSats: 1_200, InputVBytes: mustVBytes("58")},
		{Txid: "dd", Vout: 3, ValueSats: 84_000, InputVBytes: mustVBytes("148")},
		{Txid: "ee", Vout: 4, ValueSats: 10_000, InputVBytes: mustVBytes("91")},
	}
	params := models.SelectionParams{
		TargetSats:      83_500,
		FeeRateSatPerVB: mustFeeRate("1"),
		MinChangeSats:   1,
		Sizing:          defaultSizing(),
	}

	m := mustModel(t, utxos, params)
	res, err := NewSolver(5).Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	best, ok := bruteForceBest(t, m)
	if !ok {
		t.Fatal("brute force found no feasible subset")
	}
	if res.FeeSats != best.feeSats || res.TxVBytes != best.txVbytes {
		t.Errorf("Solver (fee=%d vb=%d) disagrees with brute force (fee=%d vb=%d)",
			res.FeeSats, res.TxVBytes, best.feeSats, best.txVbytes)
	}
	if res.FeeSats != 198 { // 10+31+31+68+58 vB at 1 sat/vB
		t.Errorf("Expected fee_sats=198. Got: %d", res.FeeSats)
	}
}

func exhaustiveInstance() ([]models.UTXO, models.SelectionParams) {
	utxos := []models.UTXO{
		{Txid: "a0", Vout: 0, ValueSats: 40_000, InputVBytes: mustVBytes("68")},
		{Txid: "a1", Vout: 1, ValueSats: 30_000, InputVBytes: mustVBytes("68")},
		{Txid: "a2", Vout: 2, ValueSats: 25_000, InputVBytes: mustVBytes("58")},
		{Txid: "a3", Vout: 3, ValueSats: 12_000, InputVBytes: mustVBytes("91")},
		{Txid: "a4", Vout: 4, ValueSats: 60_000, InputVBytes: mustVBytes("68")},
		{Txid: "a5", Vout: 5, ValueSats: 15_000, InputVBytes: mustVBytes("148")},
		{Txid: "a6", Vout: 6, ValueSats: 18_000, InputVBytes: mustVBytes("68")},
		{Txid: "a7", Vout: 7, ValueSats: 22_000, InputVBytes: mustVBytes("58")},
		{Txid: "a8", Vout: 8, ValueSats: 9_000, InputVBytes: mustVBytes("91")},
		{Txid: "a9", Vout: 9, ValueSats: 50_000, InputVBytes: mustVBytes("68")},
	}
	params := models.SelectionParams{
		TargetSats:      95_000,
		FeeRateSatPerVB: mustFeeRate("3"),
		MinChangeSats:   546,
		Sizing: models.TxSizing{
			BaseOverheadVBytes:    mustVBytes("10"),
			RecipientOutputVBytes: mustVBytes("31"),
			ChangeOutputVBytes:    mustVBytes("31"),
		},
	}
	return utxos, params
}

func TestSolve_ExhaustiveOptimalitySmallInstance(t *testing.T) {
	utxos, params := exhaustiveInstance()
	m := mustModel(t, utxos, params)

	best, ok := bruteForceBest(t, m)
	if !ok {
		t.Fatal("brute force found no feasible subset")
	}

	res, err := NewSolver(10).Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.FeeSats != best.feeSats {
		t.Errorf("Expected optimal fee_sats=%d. Got: %d", best.feeSats, res.FeeSats)
	}
	if res.TxVBytes != best.txVbytes {
		t.Errorf("Expected optimal tx_vbytes=%d. Got: %d", best.txVbytes, res.TxVBytes)
	}
}

func TestSolve_Deterministic(t *testing.T) {
	utxos, params := exhaustiveInstance()

	first, err := NewSolver(10).Solve(mustModel(t, utxos, params))
	if err != nil {
		t.Fatalf("first Solve failed: %v", err)
	}
	second, err := NewSolver(10).Solve(mustModel(t, utxos, params))
	if err != nil {
		t.Fatalf("second Solve failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Solver is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSolve_FractionalRateAgainstBruteForce(t *testing.T) {
	// Fee rate 2.5 with fractional input sizes exercises both ceilings
	// against the exhaustive reference.
	utxos := []models.UTXO{
		{Txid: "aa", Vout: 0, ValueSats: 50_000, InputVBytes: mustVBytes("68")},
		{Txid: "bb", Vout: 1, ValueSats: 30_000, InputVBytes: mustVBytes("91.5")},
		{Txid: "cc", Vout: 2, ValueSats: 20_000, InputVBytes: mustVBytes("58")},
		{Txid: "dd", Vout: 3, ValueSats: 7_500, InputVBytes: mustVBytes("67.75")},
	}
	params := models.SelectionParams{
		TargetSats:      60_000,
		FeeRateSatPerVB: mustFeeRate("2.5"),
		MinChangeSats:   546,
		Sizing:          defaultSizing(),
	}

	m := mustModel(t, utxos, params)
	best, ok := bruteForceBest(t, m)
	if !ok {
		t.Fatal("brute force found no feasible subset")
	}

	res, err := NewSolver(5).Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.FeeSats != best.feeSats || res.TxVBytes != best.txVbytes {
		t.Errorf("Solver (fee=%d vb=%d) disagrees with brute force (fee=%d vb=%d)",
			res.FeeSats, res.TxVBytes, best.feeSats, best.txVbytes)
	}
}

func TestSolve_SelectedPreservesCandidateOrder(t *testing.T) {
	utxos, params := exhaustiveInstance()
	m := mustModel(t, utxos, params)

	res, err := NewSolver(10).Solve(m)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	pos := make(map[string]int, len(utxos))
	for i, u := range utxos {
		pos[u.Outpoint()] = i
	}
	last := -1
	for _, u := range res.Selected {
		p, known := pos[u.Outpoint()]
		if !known {
			t.Fatalf("Selected UTXO %s is not a candidate", u.Outpoint())
		}
		if p <= last {
			t.Errorf("Selected set is not in candidate order")
		}
		last = p
	}
}
