package room

// ConnectionStatus tags the variant of ConnectionState currently held.
type ConnectionStatus int

const (
	StatusClosed ConnectionStatus = iota
	StatusAuthenticating
	StatusConnecting
	StatusOpen
	StatusUnavailable
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusAuthenticating:
		return "authenticating"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusUnavailable:
		return "unavailable"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UserInfo is the opaque per-connection identity payload carried by the
// auth token: user id (optional) and arbitrary info.
type UserInfo struct {
	ID   *string
	Info map[string]interface{}
}

// ConnectionState is the tagged variant of spec.md §3: closed and
// authenticating carry no payload; connecting/open carry the actor id and
// resolved user info; unavailable/failed carry nothing extra beyond status.
type ConnectionState struct {
	Status ConnectionStatus
	ID     int64 // actor id; meaningful only for Connecting/Open
	User   UserInfo
}

func closedState() ConnectionState       { return ConnectionState{Status: StatusClosed} }
func authenticatingState() ConnectionState { return ConnectionState{Status: StatusAuthenticating} }
func unavailableState() ConnectionState  { return ConnectionState{Status: StatusUnavailable} }
func failedState() ConnectionState       { return ConnectionState{Status: StatusFailed} }

func connectingState(actor int64, user UserInfo) ConnectionState {
	return ConnectionState{Status: StatusConnecting, ID: actor, User: user}
}

func openState(actor int64, user UserInfo) ConnectionState {
	return ConnectionState{Status: StatusOpen, ID: actor, User: user}
}
