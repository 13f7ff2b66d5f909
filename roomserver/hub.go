package roomserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"collabtext/roomkit/crdt"
	"collabtext/roomkit/protocol"
)

// serverActor is the id the hub's own authoritative storage registry is
// seeded under; it never corresponds to a real connection.
const serverActor int64 = 0

// member is one live connection into a room.
type member struct {
	actor int64
	id    *string
	info  map[string]interface{}
	conn  *websocket.Conn
	send  chan string
}

// relayEnvelope is what a hub publishes to its Redis channel: the sending
// actor plus the raw client frame, so every process subscribed to the
// channel (including the sender's own) can process it identically and
// keep their local CRDT registries in sync.
type relayEnvelope struct {
	Kind  string          `json:"kind"` // "frame", "joined", "left"
	Actor int64           `json:"actor"`
	ID    *string         `json:"id,omitempty"`
	Info  json.RawMessage `json:"info,omitempty"`
	Raw   string          `json:"raw,omitempty"`
}

// Hub owns one room's membership, its authoritative CRDT registry (used to
// answer FETCH_STORAGE), and the Redis channel that fans traffic out to
// every server process handling that room, generalizing the teacher's
// single hardcoded-docID relay to one channel per room.
type Hub struct {
	roomID string
	rdb    *redis.Client
	log    *log.Logger

	mu      sync.Mutex
	members map[int64]*member
	reg     *crdt.Registry
}

func newHub(roomID string, rdb *redis.Client, logger *log.Logger) *Hub {
	reg := crdt.NewRegistry(roomID, serverActor)
	root := crdt.NewRootObject(reg, serverActor, nil)
	reg.SetRoot(root)

	h := &Hub{
		roomID:  roomID,
		rdb:     rdb,
		log:     logger,
		members: map[int64]*member{},
		reg:     reg,
	}
	go h.subscribeLoop()
	return h
}

func (h *Hub) channel() string { return "roomkit:room:" + h.roomID }

// subscribeLoop is the single point where inbound traffic for this room is
// applied to the authoritative registry and fanned out to local members,
// regardless of which process's WebSocket connection produced it.
func (h *Hub) subscribeLoop() {
	ctx := context.Background()
	sub := h.rdb.Subscribe(ctx, h.channel())
	defer sub.Close()
	for msg := range sub.Channel() {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.Printf("roomserver: malformed relay envelope for room %s: %v", h.roomID, err)
			continue
		}
		h.handleEnvelope(env)
	}
}

func (h *Hub) publish(ctx context.Context, env relayEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, h.channel(), b).Err()
}

func (h *Hub) handleEnvelope(env relayEnvelope) {
	switch env.Kind {
	case "joined":
		h.broadcastExcept(env.Actor, protocol.ServerMessage{Type: protocol.ServerUserJoined, Actor: env.Actor})
	case "left":
		h.broadcastExcept(env.Actor, protocol.ServerMessage{Type: protocol.ServerUserLeft, Actor: env.Actor})
	case "frame":
		h.handleFrame(env.Actor, env.Raw)
	}
}

func (h *Hub) handleFrame(actor int64, raw string) {
	msgs, isControl, err := protocol.DecodeClientFrame(raw)
	if isControl || err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		switch m.Type {
		case protocol.ClientUpdatePresence:
			out := protocol.ServerMessage{Type: protocol.ServerUpdatePresence, Actor: actor, Data: m.Data}
			if m.TargetActor != nil {
				// h.mu is already held here, so look the target up
				// directly rather than through sendTo, which locks it.
				if target, ok := h.members[*m.TargetActor]; ok {
					if frame, err := protocol.EncodeServerFrame(out); err == nil {
						h.deliver(target, frame)
					}
				}
			} else {
				h.broadcastExceptLocked(actor, out)
			}

		case protocol.ClientBroadcastEvent:
			payload, _ := json.Marshal(m.Event)
			out := protocol.ServerMessage{Type: protocol.ServerBroadcastedEvent, Actor: actor, Event: payload}
			h.broadcastExceptLocked(actor, out)

		case protocol.ClientUpdateStorage:
			for _, op := range m.Ops {
				crdt.ApplyOp(h.reg, op, crdt.SourceRemote)
			}
			out := protocol.ServerMessage{Type: protocol.ServerUpdateStorage, Actor: actor, Ops: m.Ops}
			// Every member, including the sender, receives this: the
			// sender's own room.Room resolves its opIds against
			// offlineOperations and treats it as an ack.
			h.broadcastAllLocked(out)

		case protocol.ClientFetchStorage:
			snapshot := h.reg.Snapshot()
			items := make([]crdt.SerializedCrdt, 0, len(snapshot))
			for _, s := range snapshot {
				items = append(items, s)
			}
			if self, ok := h.members[actor]; ok {
				frame, err := protocol.EncodeServerFrame(protocol.ServerMessage{Type: protocol.ServerInitialStorageState, Items: items})
				if err == nil {
					h.deliver(self, frame)
				}
			}
		}
	}
}

func (h *Hub) broadcastExcept(except int64, msg protocol.ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastExceptLocked(except, msg)
}

func (h *Hub) broadcastExceptLocked(except int64, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServerFrame(msg)
	if err != nil {
		return
	}
	for actor, m := range h.members {
		if actor == except {
			continue
		}
		h.deliver(m, frame)
	}
}

func (h *Hub) broadcastAllLocked(msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServerFrame(msg)
	if err != nil {
		return
	}
	for _, m := range h.members {
		h.deliver(m, frame)
	}
}

func (h *Hub) sendTo(actor int64, msg protocol.ServerMessage) {
	h.mu.Lock()
	m, ok := h.members[actor]
	h.mu.Unlock()
	if !ok {
		return
	}
	frame, err := protocol.EncodeServerFrame(msg)
	if err != nil {
		return
	}
	h.deliver(m, frame)
}

func (h *Hub) deliver(m *member, frame string) {
	select {
	case m.send <- frame:
	default:
		h.log.Printf("roomserver: dropping frame for slow actor %d in room %s", m.actor, h.roomID)
	}
}

// roomStateSnapshot returns a wire-shaped ROOM_STATE payload for every
// member currently known locally. Membership is process-local in this
// reference server (it does not replicate the members map across
// instances), so a multi-instance deployment only sees peers connected to
// the same process — acceptable for exercising the client machine, not
// for production scale.
func (h *Hub) roomStateSnapshot() map[string]protocol.RoomUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]protocol.RoomUser, len(h.members))
	for actor, m := range h.members {
		var info json.RawMessage
		if m.info != nil {
			info, _ = json.Marshal(m.info)
		}
		out[fmt.Sprintf("%d", actor)] = protocol.RoomUser{ID: m.id, Info: info}
	}
	return out
}

// join registers conn under actor and starts its write pump; it returns a
// function the caller must run on its own goroutine to pump inbound
// messages (readPump blocks until the connection closes).
func (h *Hub) join(ctx context.Context, actor int64, id *string, info map[string]interface{}, conn *websocket.Conn) (m *member, readPump func()) {
	m = &member{actor: actor, id: id, info: info, conn: conn, send: make(chan string, 64)}

	state := h.roomStateSnapshot()

	h.mu.Lock()
	h.members[actor] = m
	h.mu.Unlock()

	go h.writePump(m)

	h.sendTo(actor, protocol.ServerMessage{Type: protocol.ServerRoomState, Users: state})

	var infoRaw json.RawMessage
	if info != nil {
		infoRaw, _ = json.Marshal(info)
	}
	_ = h.publish(ctx, relayEnvelope{Kind: "joined", Actor: actor, ID: id, Info: infoRaw})

	readPump = func() { h.readPump(ctx, m) }
	return m, readPump
}

func (h *Hub) writePump(m *member) {
	for frame := range m.send {
		if err := m.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(ctx context.Context, m *member) {
	defer h.leave(ctx, m)
	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		if string(raw) == protocol.PingFrame {
			_ = m.conn.WriteMessage(websocket.TextMessage, []byte(protocol.PongFrame))
			continue
		}
		_ = h.publish(ctx, relayEnvelope{Kind: "frame", Actor: m.actor, Raw: string(raw)})
	}
}

func (h *Hub) leave(ctx context.Context, m *member) {
	h.mu.Lock()
	delete(h.members, m.actor)
	h.mu.Unlock()
	close(m.send)
	_ = h.publish(ctx, relayEnvelope{Kind: "left", Actor: m.actor})
}
