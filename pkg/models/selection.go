package models

import "fmt"

// UTXO is a spendable transaction output offered to the selector.
// Identity is the (Txid, Vout) pair; a candidate set must not contain
// the same outpoint twice.
type UTXO struct {
	Txid        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	ValueSats   int64  `json:"value_sats"`   // in Satoshis
	InputVBytes VBytes `json:"input_vbytes"` // virtual size consumed when spent
}

// Outpoint returns the canonical "txid:vout" identity string.
func (u UTXO) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.Txid, u.Vout)
}

// TxSizing is the fixed transaction template: one logical recipient
// segment and exactly one change output.
type TxSizing struct {
	BaseOverheadVBytes    VBytes `json:"base_overhead_vbytes"`    // version/locktime/counts
	RecipientOutputVBytes VBytes `json:"recipient_output_vbytes"` // recipient output(s) total
	ChangeOutputVBytes    VBytes `json:"change_output_vbytes"`    // the change output
}

// FixedVBytes is the size of everything that is independent of the
// selected inputs.
func (s TxSizing) FixedVBytes() VBytes {
	return s.BaseOverheadVBytes + s.RecipientOutputVBytes + s.ChangeOutputVBytes
}

// SelectionParams are the fixed inputs for one coin-selection run.
type SelectionParams struct {
	TargetSats      int64    `json:"target_sats"`
	FeeRateSatPerVB FeeRate  `json:"fee_rate_sat_per_vb"`
	MinChangeSats   int64    `json:"min_change_sats"` // dust / wallet policy threshold
	Sizing          TxSizing `json:"sizing"`
}

// SelectionResult is the solution returned by the solver. All fields are
// exact integers and satisfy the conservation identity
// total_input_sats == target_sats + fee_sats + change_sats.
type SelectionResult struct {
	Selected   []UTXO `json:"selected"` // in original candidate order
	ChangeSats int64  `json:"change_sats"`
	FeeSats    int64  `json:"fee_sats"`
	TxVBytes   int64  `json:"tx_vbytes"`
}

// TotalInputSats is the summed value of the selected UTXOs.
func (r SelectionResult) TotalInputSats() int64 {
	var total int64
	for _, u := range r.Selected {
		total += u.ValueSats
	}
	return total
}

// TotalOutputSats is recipient + change (fee excluded).
func (r SelectionResult) TotalOutputSats() int64 {
	return r.TotalInputSats() - r.FeeSats
}
