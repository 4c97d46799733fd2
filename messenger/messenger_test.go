package messenger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/watchtower-go/agreement"
	"github.com/TEENet-io/watchtower-go/contracts"
)

func witnessMessage() *agreement.SwapClaimWitnessMessage {
	return &agreement.SwapClaimWitnessMessage{
		SwapData: &contracts.SimSwapData{EscrowHash: "e1", ClaimHash: "c1", Type: agreement.SwapTypeHTLC},
		Witness:  strings.Repeat("11", 32),
	}
}

func TestEncodeDecode(t *testing.T) {
	raw, err := Encode(witnessMessage())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"swap_claim_witness"`)

	msg, err := Decode(raw, contracts.DeserializeSwapData)
	require.NoError(t, err)
	m := msg.(*agreement.SwapClaimWitnessMessage)
	assert.Equal(t, "e1", m.SwapData.GetEscrowHash())
	assert.Equal(t, strings.Repeat("11", 32), m.Witness)

	_, err = Decode([]byte(`{"type":"other"}`), contracts.DeserializeSwapData)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
	_, err = Decode([]byte(`not json`), contracts.DeserializeSwapData)
	assert.Error(t, err)
}

func TestLocalBroadcast(t *testing.T) {
	l := NewLocal()
	var got []agreement.Message
	require.NoError(t, l.Subscribe(func(msg agreement.Message) { got = append(got, msg) }))
	require.NoError(t, l.Init(context.Background()))
	require.NoError(t, l.Broadcast(context.Background(), witnessMessage()))
	assert.Len(t, got, 1)
}

// echoRelay sends frames to every client and echoes what clients send.
func echoRelay(t *testing.T, frames ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, raw); err != nil {
				return
			}
		}
	}))
}

func TestWsMessengerReceivesAndBroadcasts(t *testing.T) {
	valid, err := Encode(witnessMessage())
	require.NoError(t, err)
	srv := echoRelay(t, "garbage", `{"type":"other"}`, string(valid))
	defer srv.Close()

	m := NewWsMessenger("ws"+strings.TrimPrefix(srv.URL, "http"), contracts.DeserializeSwapData)
	received := make(chan agreement.Message, 4)
	require.NoError(t, m.Subscribe(func(msg agreement.Message) { received <- msg }))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Init(ctx))

	select {
	case msg := <-received:
		assert.Equal(t, "e1", msg.(*agreement.SwapClaimWitnessMessage).SwapData.GetEscrowHash())
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, m.Broadcast(ctx, witnessMessage()))
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not echoed")
	}

	cancel()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}
}

func TestWsMessengerDialFailure(t *testing.T) {
	m := NewWsMessenger("ws://127.0.0.1:1/none", contracts.DeserializeSwapData)
	assert.Error(t, m.Init(context.Background()))
	assert.ErrorIs(t, m.Broadcast(context.Background(), witnessMessage()), ErrNotConnected)
}
