// Package protocol defines the JSON wire format exchanged between the room
// state machine and a room server: message type codes, the client- and
// server-bound envelopes, and the two control frames "ping"/"pong".
package protocol

import (
	"encoding/json"
	"fmt"

	"collabtext/roomkit/crdt"
)

type ClientMessageType int

const (
	ClientUpdatePresence ClientMessageType = iota + 100
	ClientBroadcastEvent
	ClientUpdateStorage
	ClientFetchStorage
)

type ServerMessageType int

const (
	ServerUserJoined ServerMessageType = iota + 100
	ServerUpdatePresence
	ServerBroadcastedEvent
	ServerUserLeft
	ServerRoomState
	ServerInitialStorageState
	ServerUpdateStorage
)

// FullPresenceTarget is the sentinel targetActor value meaning "broadcast
// my whole presence to everyone in the room".
const FullPresenceTarget = -1

const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// ClientMessage is the client -> server envelope. Only the fields relevant
// to Type are populated.
type ClientMessage struct {
	Type        ClientMessageType      `json:"type"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TargetActor *int64                 `json:"targetActor,omitempty"`
	Event       interface{}            `json:"event,omitempty"`
	Ops         []crdt.Op              `json:"ops,omitempty"`
}

// RoomUser is one entry of a ROOM_STATE message's users map.
type RoomUser struct {
	ID   *string         `json:"id,omitempty"`
	Info json.RawMessage `json:"info,omitempty"`
}

// ServerMessage is the server -> client envelope.
type ServerMessage struct {
	Type        ServerMessageType         `json:"type"`
	Actor       int64                     `json:"actor,omitempty"`
	Data        map[string]interface{}    `json:"data,omitempty"`
	TargetActor *int64                    `json:"targetActor,omitempty"`
	Event       json.RawMessage           `json:"event,omitempty"`
	Users       map[string]RoomUser       `json:"users,omitempty"`
	Items       []crdt.SerializedCrdt     `json:"items,omitempty"`
	Ops         []crdt.Op                 `json:"ops,omitempty"`
}

// EncodeFrame renders one or more client messages as a single text frame,
// array-wrapping when there is more than one, per the wire format.
func EncodeFrame(msgs ...ClientMessage) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("protocol: cannot encode an empty frame")
	}
	var payload interface{} = msgs
	if len(msgs) == 1 {
		payload = msgs[0]
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeFrame parses one inbound text frame into zero or more server
// messages. Control frames ("ping"/"pong") decode to (nil, true, nil).
func DecodeFrame(raw string) (msgs []ServerMessage, isControl bool, err error) {
	if raw == PingFrame || raw == PongFrame {
		return nil, true, nil
	}
	trimmed := []byte(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("protocol: empty frame")
	}
	switch trimmed[0] {
	case '[':
		var batch []ServerMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, false, err
		}
		return batch, false, nil
	case '{':
		var one ServerMessage
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, false, err
		}
		return []ServerMessage{one}, false, nil
	default:
		return nil, false, fmt.Errorf("protocol: malformed frame %q", raw)
	}
}

// DecodeClientFrame is DecodeFrame's mirror for the server side: it parses
// one inbound text frame into zero or more client messages.
func DecodeClientFrame(raw string) (msgs []ClientMessage, isControl bool, err error) {
	if raw == PingFrame || raw == PongFrame {
		return nil, true, nil
	}
	trimmed := []byte(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("protocol: empty frame")
	}
	switch trimmed[0] {
	case '[':
		var batch []ClientMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, false, err
		}
		return batch, false, nil
	case '{':
		var one ClientMessage
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, false, err
		}
		return []ClientMessage{one}, false, nil
	default:
		return nil, false, fmt.Errorf("protocol: malformed frame %q", raw)
	}
}

// EncodeServerFrame is EncodeFrame's mirror for the server side.
func EncodeServerFrame(msgs ...ServerMessage) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("protocol: cannot encode an empty frame")
	}
	var payload interface{} = msgs
	if len(msgs) == 1 {
		payload = msgs[0]
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
