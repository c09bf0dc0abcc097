package controller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-data/chainstate/pkg/notify"
	"github.com/archon-data/chainstate/pkg/types"
)

// TestClientSubscriptions tests the subscription tracking logic
func TestClientSubscriptions(t *testing.T) {
	t.Run("subscribe and check", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("ethereum")
		assert.True(t, subs.isSubscribed("ethereum"))
		assert.False(t, subs.isSubscribed("starknet"))
	})

	t.Run("wildcard subscription", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("*")
		assert.True(t, subs.isSubscribed("*"))
		assert.True(t, subs.isSubscribed("ethereum"))
		assert.True(t, subs.isSubscribed("starknet"))
	})

	t.Run("unsubscribe", func(t *testing.T) {
		subs := newClientSubscriptions()

		subs.subscribe("ethereum")
		assert.True(t, subs.isSubscribed("ethereum"))

		subs.unsubscribe("ethereum")
		assert.False(t, subs.isSubscribed("ethereum"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		subs := newClientSubscriptions()
		done := make(chan bool)

		go func() {
			for i := 0; i < 100; i++ {
				subs.subscribe("ethereum")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				subs.unsubscribe("ethereum")
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				_ = subs.isSubscribed("ethereum")
			}
			done <- true
		}()

		<-done
		<-done
		<-done
	})
}

func TestValidSubscriptionChain(t *testing.T) {
	tests := []struct {
		chain string
		want  bool
	}{
		{chain: "*", want: true},
		{chain: "ethereum", want: true},
		{chain: "starknet", want: true},
		{chain: "dogecoin", want: false},
		{chain: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.chain, func(t *testing.T) {
			assert.Equal(t, tt.want, validSubscriptionChain(tt.chain))
		})
	}
}

// TestServerMessageSerialization tests JSON serialization of messages
func TestServerMessageSerialization(t *testing.T) {
	tests := []struct {
		name    string
		message ServerMessage
	}{
		{
			name: "delta committed message",
			message: ServerMessage{
				Type: "delta.committed",
				Payload: notify.DeltaAnnouncement{
					Chain:       types.Ethereum,
					BlockHash:   common.HexToHash("0xbeef"),
					BlockNumber: 12345,
					Ts:          time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
				},
			},
		},
		{
			name: "error message",
			message: ServerMessage{
				Type: "error",
				Payload: map[string]interface{}{
					"message": "real-time events unavailable",
				},
			},
		},
		{
			name: "subscribed message",
			message: ServerMessage{
				Type:    "subscribed",
				Payload: map[string]string{"chain": "ethereum"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.message)
			require.NoError(t, err)

			var decoded ServerMessage
			err = json.Unmarshal(data, &decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.message.Type, decoded.Type)
		})
	}
}

// TestClientMessageParsing tests parsing of client messages
func TestClientMessageParsing(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    ClientMessage
		wantErr bool
	}{
		{
			name: "subscribe to specific chain",
			json: `{"action":"subscribe","chain":"ethereum"}`,
			want: ClientMessage{
				Action: "subscribe",
				Chain:  "ethereum",
			},
		},
		{
			name: "subscribe to all chains",
			json: `{"action":"subscribe","chain":"*"}`,
			want: ClientMessage{
				Action: "subscribe",
				Chain:  "*",
			},
		},
		{
			name: "unsubscribe",
			json: `{"action":"unsubscribe","chain":"ethereum"}`,
			want: ClientMessage{
				Action: "unsubscribe",
				Chain:  "ethereum",
			},
		},
		{
			name:    "invalid json",
			json:    `{invalid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg ClientMessage
			err := json.Unmarshal([]byte(tt.json), &msg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want.Action, msg.Action)
			assert.Equal(t, tt.want.Chain, msg.Chain)
		})
	}
}
