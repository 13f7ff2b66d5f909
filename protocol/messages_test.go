package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/roomkit/crdt"
)

func TestDecodeFrameRecognizesControlFrames(t *testing.T) {
	_, isControl, err := DecodeFrame(PingFrame)
	require.NoError(t, err)
	assert.True(t, isControl)

	_, isControl, err = DecodeFrame(PongFrame)
	require.NoError(t, err)
	assert.True(t, isControl)
}

func TestEncodeFrameSingleMessageIsNotArrayWrapped(t *testing.T) {
	frame, err := EncodeFrame(ClientMessage{Type: ClientBroadcastEvent, Event: map[string]interface{}{"a": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, byte('{'), frame[0], "a single message must not be array-wrapped")
}

func TestEncodeDecodeServerFrameArrayWrapsMultiple(t *testing.T) {
	msgs := []ServerMessage{
		{Type: ServerUserJoined, Actor: 1},
		{Type: ServerUserLeft, Actor: 2},
	}
	frame, err := EncodeServerFrame(msgs...)
	require.NoError(t, err)
	assert.Equal(t, byte('['), frame[0])

	decoded, isControl, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.False(t, isControl)
	require.Len(t, decoded, 2)
	assert.Equal(t, ServerUserJoined, decoded[0].Type)
	assert.Equal(t, int64(1), decoded[0].Actor)
	assert.Equal(t, ServerUserLeft, decoded[1].Type)
	assert.Equal(t, int64(2), decoded[1].Actor)
}

func TestDecodeClientFrameRoundTripsOps(t *testing.T) {
	op := crdt.Op{Code: crdt.OpUpdateObject, OpID: "1:1", ID: "1:0", Data: map[string]interface{}{"a": 1.0}}
	frame, err := EncodeFrame(ClientMessage{Type: ClientUpdateStorage, Ops: []crdt.Op{op}})
	require.NoError(t, err)

	msgs, isControl, err := DecodeClientFrame(frame)
	require.NoError(t, err)
	assert.False(t, isControl)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Ops, 1)
	assert.Equal(t, op.OpID, msgs[0].Ops[0].OpID)
	assert.Equal(t, op.Code, msgs[0].Ops[0].Code)
}

func TestEncodeFrameRejectsEmpty(t *testing.T) {
	_, err := EncodeFrame()
	assert.Error(t, err)
	_, err = EncodeServerFrame()
	assert.Error(t, err)
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	_, _, err := DecodeFrame("not-json")
	assert.Error(t, err)
	_, _, err = DecodeFrame("")
	assert.Error(t, err)
}
