package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		require.Len(t, id, 10)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewNotification(Body{"type": "UAV-INF", "ids": []any{"DRN-01"}})
	raw, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, ProtocolVersion, decoded.Version)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "UAV-INF", decoded.Type())
	assert.Equal(t, []string{"DRN-01"}, decoded.Body.StringSlice("ids"))
}

func TestEnvelopeUsesProtocolVersionKey(t *testing.T) {
	raw, err := NewNotification(Body{"type": "SYS-PING"}).Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "1.0", wire["$fw.version"])
	assert.NotContains(t, wire, "refs")
}

func TestResponseRefsRequestAndCopiesType(t *testing.T) {
	req := NewNotification(Body{"type": "UAV-LIST"})

	resp := NewResponseTo(req, Body{"ids": []any{}})
	assert.Equal(t, req.ID, resp.Refs)
	assert.Equal(t, "UAV-LIST", resp.Type())

	// An explicit type wins over the copied one.
	nak := NewResponseTo(req, Body{"type": "ACK-NAK"})
	assert.Equal(t, "ACK-NAK", nak.Type())
}

func TestACKAndNAK(t *testing.T) {
	req := NewNotification(Body{"type": "SYS-PING"})

	ack := NewACK(req)
	assert.Equal(t, "ACK-ACK", ack.Type())
	assert.Equal(t, req.ID, ack.Refs)

	nak := NewNAK(req, "bad request")
	assert.Equal(t, "ACK-NAK", nak.Type())
	assert.Equal(t, "bad request", nak.Body["reason"])

	noReason := NewNAK(req, "")
	assert.NotContains(t, noReason.Body, "reason")
}

func TestBodyStringSliceSkipsNonStrings(t *testing.T) {
	b := Body{"ids": []any{"a", 1, "b", nil}}
	assert.Equal(t, []string{"a", "b"}, b.StringSlice("ids"))
	assert.Nil(t, b.StringSlice("missing"))
}
