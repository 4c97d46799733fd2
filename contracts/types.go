package contracts

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/TEENet-io/watchtower-go/agreement"
)

// SimSwapData is the escrow record of the simulated smart chain.
type SimSwapData struct {
	EscrowHash    string             `json:"escrowHash"`
	ClaimHash     string             `json:"claimHash"`
	Type          agreement.SwapType `json:"type"`
	TxoHash       string             `json:"txoHash,omitempty"`
	Confirmations int64              `json:"confirmations,omitempty"`
	SuccessAction bool               `json:"successAction,omitempty"`
	Offerer       string             `json:"offerer"`
	Claimer       string             `json:"claimer"`
	Amount        int64              `json:"amount"`
}

func (d *SimSwapData) GetEscrowHash() string       { return d.EscrowHash }
func (d *SimSwapData) GetClaimHash() string        { return d.ClaimHash }
func (d *SimSwapData) GetType() agreement.SwapType { return d.Type }
func (d *SimSwapData) GetTxoHashHint() string      { return d.TxoHash }
func (d *SimSwapData) GetConfirmationsHint() int64 { return d.Confirmations }
func (d *SimSwapData) HasSuccessAction() bool      { return d.SuccessAction }
func (d *SimSwapData) Serialize() ([]byte, error)  { return json.Marshal(d) }

func DeserializeSwapData(raw []byte) (agreement.SwapData, error) {
	var d SimSwapData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SimVault is the vault record of the simulated smart chain.
type SimVault struct {
	Owner         string   `json:"owner"`
	ID            *big.Int `json:"id"`
	Utxo          string   `json:"utxo"`
	Opened        bool     `json:"opened"`
	Confirmations int64    `json:"confirmations"`
	Balance       int64    `json:"balance"`
}

func (v *SimVault) GetOwner() string        { return v.Owner }
func (v *SimVault) GetVaultID() *big.Int    { return v.ID }
func (v *SimVault) GetUtxo() string         { return v.Utxo }
func (v *SimVault) IsOpened() bool          { return v.Opened }
func (v *SimVault) GetConfirmations() int64 { return v.Confirmations }
func (v *SimVault) Serialize() ([]byte, error) {
	return json.Marshal(v)
}

// CalculateStateAfter checks that withdrawals spend the vault utxo one after
// the other and never overdraw the balance.
func (v *SimVault) CalculateStateAfter(withdrawals []agreement.SpvVaultWithdrawalData) error {
	utxo := v.Utxo
	balance := v.Balance
	for _, w := range withdrawals {
		sw, ok := w.(*SimWithdrawal)
		if !ok {
			return fmt.Errorf("unexpected withdrawal type %T", w)
		}
		if sw.SpentUtxo != utxo {
			return fmt.Errorf("withdrawal %s spends %s, vault is at %s", sw.TxID, sw.SpentUtxo, utxo)
		}
		balance -= sw.Amount
		if balance < 0 {
			return fmt.Errorf("withdrawal %s overdraws vault", sw.TxID)
		}
		utxo = sw.TxID + ":0"
	}
	return nil
}

func (v *SimVault) clone() *SimVault {
	c := *v
	c.ID = new(big.Int).Set(v.ID)
	return &c
}

func DeserializeVaultData(raw []byte) (agreement.SpvVaultData, error) {
	var v SimVault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v.ID == nil {
		return nil, fmt.Errorf("vault without id")
	}
	return &v, nil
}

// SimWithdrawal is a parsed withdrawal tx: input 0 spends the vault,
// output 0 recreates it, the remaining outputs pay out Amount.
type SimWithdrawal struct {
	TxID      string
	SpentUtxo string
	Amount    int64
}

func (w *SimWithdrawal) GetTxID() string           { return w.TxID }
func (w *SimWithdrawal) GetSpentVaultUtxo() string { return w.SpentUtxo }

// SimClaimTx is a prebuilt claim as returned by the Txs* builders.
type SimClaimTx struct {
	EscrowHash  string   // escrow claims
	VaultKey    string   // vault claims
	Withdrawals []string // vault claims, withdrawal txids in order
	BtcTxID     string
	FeeRate     string
	InitAta     bool
}

// SimStoredHeader is a relay header for tests.
type SimStoredHeader struct {
	Height int64
	Hash   string
}

func (h *SimStoredHeader) GetBlockHeight() int64 { return h.Height }
