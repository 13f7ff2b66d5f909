package room

import "collabtext/roomkit/crdt"

// Unsubscribe removes a previously registered listener from its registry.
type Unsubscribe func()

// StorageUpdateEvent is delivered to storage listeners: one entry per node
// touched during the apply that produced the notification.
type StorageUpdateEvent struct {
	NodeID string
	Type   crdt.UpdateType
	Keys   []string
}

type othersEventKind int

const (
	OthersEnter othersEventKind = iota
	OthersLeave
	OthersUpdate
	OthersReset
)

type OthersEvent struct {
	Kind othersEventKind
	User *User // nil for Reset
}

type ConnectionEvent struct {
	Previous ConnectionStatus
	Current  ConnectionStatus
}

type HistoryEvent struct {
	CanUndo bool
	CanRedo bool
}

type UserBroadcastEvent struct {
	ConnectionID int64
	Event        interface{}
}

// listenerSet is a minimal ordered, removable listener registry; every
// typed subscription registry in this file is a thin wrapper over one.
type listenerSet[T any] struct {
	nextID int
	fns    map[int]func(T)
	order  []int
}

func newListenerSet[T any]() *listenerSet[T] {
	return &listenerSet[T]{fns: map[int]func(T){}}
}

func (s *listenerSet[T]) add(fn func(T)) Unsubscribe {
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	s.order = append(s.order, id)
	return func() {
		delete(s.fns, id)
	}
}

func (s *listenerSet[T]) emit(v T) {
	for _, id := range s.order {
		if fn, ok := s.fns[id]; ok {
			fn(v)
		}
	}
}

// subscriptions bundles every typed registry the room exposes. Dynamic
// per-node storage subscriptions (subscribeNode/subscribeNodeDeep) are
// kept separately since they're keyed by node id rather than global.
type subscriptions struct {
	storage    *listenerSet[[]StorageUpdateEvent]
	myPresence *listenerSet[Presence]
	others     *listenerSet[OthersEvent]
	errors     *listenerSet[error]
	connection *listenerSet[ConnectionEvent]
	history    *listenerSet[HistoryEvent]
	event      *listenerSet[UserBroadcastEvent]

	nodeListeners     map[string]*listenerSet[[]StorageUpdateEvent]
	nodeDeepListeners map[string]*listenerSet[[]StorageUpdateEvent]
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		storage:           newListenerSet[[]StorageUpdateEvent](),
		myPresence:        newListenerSet[Presence](),
		others:            newListenerSet[OthersEvent](),
		errors:            newListenerSet[error](),
		connection:        newListenerSet[ConnectionEvent](),
		history:           newListenerSet[HistoryEvent](),
		event:             newListenerSet[UserBroadcastEvent](),
		nodeListeners:     map[string]*listenerSet[[]StorageUpdateEvent]{},
		nodeDeepListeners: map[string]*listenerSet[[]StorageUpdateEvent]{},
	}
}

func (s *subscriptions) subscribeNode(nodeID string, fn func([]StorageUpdateEvent)) Unsubscribe {
	set, ok := s.nodeListeners[nodeID]
	if !ok {
		set = newListenerSet[[]StorageUpdateEvent]()
		s.nodeListeners[nodeID] = set
	}
	return set.add(fn)
}

func (s *subscriptions) subscribeNodeDeep(nodeID string, fn func([]StorageUpdateEvent)) Unsubscribe {
	set, ok := s.nodeDeepListeners[nodeID]
	if !ok {
		set = newListenerSet[[]StorageUpdateEvent]()
		s.nodeDeepListeners[nodeID] = set
	}
	return set.add(fn)
}
