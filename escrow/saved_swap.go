package escrow

import (
	"encoding/json"
	"sync/atomic"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/storage"
)

// SavedSwap is an escrow tracked by the watchtower.
type SavedSwap struct {
	agreement.Lockable

	TxoHash  string // "" for swaps not backed by a bitcoin output
	SwapData agreement.SwapData

	claimAttemptFailed atomic.Bool
}

func NewSavedSwap(txoHash string, data agreement.SwapData) *SavedSwap {
	return &SavedSwap{TxoHash: txoHash, SwapData: data}
}

func (s *SavedSwap) EscrowHash() string {
	return s.SwapData.GetEscrowHash()
}

// ClaimAttemptFailed is true once a claim of this swap reverted on chain.
func (s *SavedSwap) ClaimAttemptFailed() bool {
	return s.claimAttemptFailed.Load()
}

func (s *SavedSwap) SetClaimAttemptFailed(failed bool) {
	s.claimAttemptFailed.Store(failed)
}

type savedSwapRecord struct {
	TxoHash            string          `json:"txoHash,omitempty"`
	SwapData           json.RawMessage `json:"swapData"`
	ClaimAttemptFailed bool            `json:"claimAttemptFailed,omitempty"`
}

// SavedSwapCodec stores swaps as JSON, the swap data in its contract-native form.
func SavedSwapCodec(deserialize agreement.SwapDataDeserializer) storage.Codec[*SavedSwap] {
	return storage.Codec[*SavedSwap]{
		Encode: func(s *SavedSwap) ([]byte, error) {
			data, err := s.SwapData.Serialize()
			if err != nil {
				return nil, err
			}
			return json.Marshal(&savedSwapRecord{
				TxoHash:            s.TxoHash,
				SwapData:           data,
				ClaimAttemptFailed: s.ClaimAttemptFailed(),
			})
		},
		Decode: func(raw []byte) (*SavedSwap, error) {
			var rec savedSwapRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
			data, err := deserialize(rec.SwapData)
			if err != nil {
				return nil, err
			}
			s := NewSavedSwap(rec.TxoHash, data)
			s.SetClaimAttemptFailed(rec.ClaimAttemptFailed)
			return s, nil
		},
	}
}
