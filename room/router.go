package room

import (
	"encoding/json"
	"strconv"

	"collabtext/roomkit/crdt"
	"collabtext/roomkit/protocol"
)

// onSocketMessage is the Message Router (§4.2): it decodes one inbound
// frame into zero or more server messages and dispatches each by type,
// merging any storage diffs produced across the whole frame into a single
// notification before returning.
func (r *Room) onSocketMessage(data string) {
	msgs, isControl, err := protocol.DecodeFrame(data)
	if isControl {
		if data == protocol.PongFrame {
			r.onPong()
		}
		return
	}
	if err != nil {
		r.log.Printf("roomkit: malformed frame: %v", err)
		return
	}

	merged := map[string]crdt.StorageUpdate{}
	for _, m := range msgs {
		switch m.Type {
		case protocol.ServerUserJoined:
			r.handleUserJoined(m)
		case protocol.ServerUpdatePresence:
			r.handleUpdatePresence(m)
		case protocol.ServerUserLeft:
			r.handleUserLeft(m)
		case protocol.ServerRoomState:
			r.handleRoomState(m)
		case protocol.ServerBroadcastedEvent:
			r.handleBroadcastedEvent(m)
		case protocol.ServerInitialStorageState:
			r.createOrUpdateRootFromMessage(m.Items)
		case protocol.ServerUpdateStorage:
			r.handleUpdateStorage(m, merged)
		}
	}
	r.emitStorageNotification(merged)
}

// handleUserJoined adds a placeholder entry for the newcomer (no presence
// yet) and, per the initial-presence-gating rule, does not fire an
// OthersEnter event until that user's first UPDATE_PRESENCE arrives; it
// also queues our own full presence, targeted at the newcomer, so they
// receive it without waiting for the next broadcast tick.
func (r *Room) handleUserJoined(m protocol.ServerMessage) {
	r.users[m.Actor] = &userEntry{connectionID: m.Actor}
	target := m.Actor
	r.out.messages = append(r.out.messages, protocol.ClientMessage{
		Type:        protocol.ClientUpdatePresence,
		Data:        clonePresence(r.me),
		TargetActor: &target,
	})
	r.tryFlushing()
}

func (r *Room) handleUpdatePresence(m protocol.ServerMessage) {
	u, ok := r.users[m.Actor]
	if !ok {
		u = &userEntry{connectionID: m.Actor}
		r.users[m.Actor] = u
	}
	firstTime := !u.hasReceivedInitialPresence
	if u.presence == nil {
		u.presence = Presence{}
	}
	for k, v := range m.Data {
		u.presence[k] = v
	}
	u.hasReceivedInitialPresence = true

	view := User{ConnectionID: u.connectionID, ID: u.id, Info: u.info, Presence: clonePresence(u.presence)}
	if firstTime {
		r.subs.others.emit(OthersEvent{Kind: OthersEnter, User: &view})
	} else {
		r.subs.others.emit(OthersEvent{Kind: OthersUpdate, User: &view})
	}
}

func (r *Room) handleUserLeft(m protocol.ServerMessage) {
	u, ok := r.users[m.Actor]
	if !ok {
		return
	}
	delete(r.users, m.Actor)
	if u.hasReceivedInitialPresence {
		view := User{ConnectionID: u.connectionID, ID: u.id, Info: u.info, Presence: clonePresence(u.presence)}
		r.subs.others.emit(OthersEvent{Kind: OthersLeave, User: &view})
	}
}

// handleRoomState seeds the full membership list on (re)connect; entries
// carry identity but, per the gating rule, do not count as "entered"
// others until their own presence arrives.
func (r *Room) handleRoomState(m protocol.ServerMessage) {
	next := map[int64]*userEntry{}
	for actorStr, ru := range m.Users {
		actor := parseActor(actorStr)
		if actor == r.conn.ID {
			continue // never list ourselves among others
		}
		info := map[string]interface{}{}
		if len(ru.Info) > 0 {
			_ = json.Unmarshal(ru.Info, &info)
		}
		next[actor] = &userEntry{connectionID: actor, id: ru.ID, info: info}
	}
	r.users = next
}

func (r *Room) handleBroadcastedEvent(m protocol.ServerMessage) {
	var payload interface{}
	if len(m.Event) > 0 {
		_ = json.Unmarshal(m.Event, &payload)
	}
	r.subs.event.emit(UserBroadcastEvent{ConnectionID: m.Actor, Event: payload})
}

func parseActor(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (r *Room) handleUpdateStorage(m protocol.ServerMessage, merged map[string]crdt.StorageUpdate) {
	entry := make(HistoryEntry, len(m.Ops))
	for i, op := range m.Ops {
		op := op
		entry[i] = HistoryItem{Op: &op}
	}
	_, updates, _ := r.applyEntry(entry, false)
	for _, u := range updates {
		crdt.MergeStorageUpdates(merged, u)
	}
}
