package selection

import (
	"github.com/rawblock/coinselect-engine/pkg/models"
)

// Model is one coin-selection instance: an ordered candidate set plus the
// fixed parameters. It owns the exact fee arithmetic — the solver derives
// its bounds from the same quantities, but the evaluation here is the
// source of truth for any reported result.
type Model struct {
	utxos  []models.UTXO
	params models.SelectionParams
}

type outpointKey struct {
	txid string
	vout uint32
}

// NewModel validates the instance and returns it ready for solving.
// All InvalidInput conditions are caught here, before any search runs:
// empty candidate set, non-positive target, non-positive fee rate,
// negative min_change, negative sizes, duplicate outpoints.
func NewModel(utxos []models.UTXO, params models.SelectionParams) (*Model, error) {
	if len(utxos) == 0 {
		return nil, invalidInputf("candidate set is empty")
	}
	if params.TargetSats <= 0 {
		return nil, invalidInputf("target_sats must be positive, got %d", params.TargetSats)
	}
	if params.FeeRateSatPerVB <= 0 {
		return nil, invalidInputf("fee_rate_sat_per_vb must be positive, got %s", params.FeeRateSatPerVB)
	}
	if params.MinChangeSats < 0 {
		return nil, invalidInputf("min_change_sats must be non-negative, got %d", params.MinChangeSats)
	}
	sz := params.Sizing
	if sz.BaseOverheadVBytes < 0 || sz.RecipientOutputVBytes < 0 || sz.ChangeOutputVBytes < 0 {
		return nil, invalidInputf("sizing vbytes must be non-negative")
	}

	seen := make(map[outpointKey]bool, len(utxos))
	for i, u := range utxos {
		if u.ValueSats < 0 {
			return nil, invalidInputf("utxo %s has negative value %d", u.Outpoint(), u.ValueSats)
		}
		if u.InputVBytes < 0 {
			return nil, invalidInputf("utxo %s has negative input_vbytes", u.Outpoint())
		}
		key := outpointKey{u.Txid, u.Vout}
		if seen[key] {
			return nil, invalidInputf("duplicate outpoint %s at index %d", u.Outpoint(), i)
		}
		seen[key] = true
	}

	// Candidates are copied so later caller mutations cannot skew a solve.
	cp := make([]models.UTXO, len(utxos))
	copy(cp, utxos)

	return &Model{utxos: cp, params: params}, nil
}

// Candidates returns the candidate set in input order.
func (m *Model) Candidates() []models.UTXO {
	return m.utxos
}

// Params returns the fixed selection parameters.
func (m *Model) Params() models.SelectionParams {
	return m.params
}

// EvaluateFeeAndVbytes computes the exact transaction size and fee for a
// non-empty subset of the candidates:
//
//	tx_vbytes = ceil(base + recipient_out + change_out + Σ input_vbytes)
//	fee_sats  = ceil(fee_rate · tx_vbytes)
//
// The two ceilings are sequential and order matters: vbytes round up to a
// whole vbyte first, then the fee rounds up on that integer count.
func (m *Model) EvaluateFeeAndVbytes(selected []models.UTXO) (feeSats, txVbytes int64, err error) {
	if len(selected) == 0 {
		return 0, 0, invalidInputf("cannot evaluate an empty subset")
	}
	raw := m.params.Sizing.FixedVBytes()
	for _, u := range selected {
		raw += u.InputVBytes
	}
	txVbytes = raw.Ceil()
	feeSats = m.params.FeeRateSatPerVB.FeeFor(txVbytes)
	return feeSats, txVbytes, nil
}

// evaluateMask is the solver-facing variant over a selection mask.
// Returns ok=false for the empty mask.
func (m *Model) evaluateMask(mask []bool) (feeSats, txVbytes int64, ok bool) {
	raw := m.params.Sizing.FixedVBytes()
	any := false
	for i, take := range mask {
		if take {
			raw += m.utxos[i].InputVBytes
			any = true
		}
	}
	if !any {
		return 0, 0, false
	}
	txVbytes = raw.Ceil()
	feeSats = m.params.FeeRateSatPerVB.FeeFor(txVbytes)
	return feeSats, txVbytes, true
}

// totalValue sums the value of the masked-in candidates.
func (m *Model) totalValue(mask []bool) int64 {
	var total int64
	for i, take := range mask {
		if take {
			total += m.utxos[i].ValueSats
		}
	}
	return total
}
