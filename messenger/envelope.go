// Package messenger carries swap witness messages between the swap
// participants and the watchtower.
package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TEENet-io/watchtower-go/agreement"
)

const TypeSwapClaimWitness = "swap_claim_witness"

var ErrUnknownMessageType = errors.New("unknown message type")

type envelope struct {
	Type     string          `json:"type"`
	SwapData json.RawMessage `json:"swapData"`
	Witness  string          `json:"witness"`
}

// Encode serializes msg into its JSON wire form.
func Encode(msg agreement.Message) ([]byte, error) {
	switch m := msg.(type) {
	case *agreement.SwapClaimWitnessMessage:
		data, err := m.SwapData.Serialize()
		if err != nil {
			return nil, err
		}
		return json.Marshal(&envelope{Type: TypeSwapClaimWitness, SwapData: data, Witness: m.Witness})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
}

// Decode parses the JSON wire form, restoring swap data with deserialize.
func Decode(raw []byte, deserialize agreement.SwapDataDeserializer) (agreement.Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type != TypeSwapClaimWitness {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	data, err := deserialize(env.SwapData)
	if err != nil {
		return nil, err
	}
	return &agreement.SwapClaimWitnessMessage{SwapData: data, Witness: env.Witness}, nil
}
