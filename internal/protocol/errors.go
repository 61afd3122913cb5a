package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session state.
	ErrNotLoggedIn   = "E_NOT_LOGGED_IN"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrUnknownPlayer = "E_UNKNOWN_PLAYER"

	// Routing.
	ErrPeerOffline     = "E_PEER_OFFLINE"
	ErrUnknownLocation = "E_UNKNOWN_LOCATION"
	ErrLocationTaken   = "E_LOCATION_TAKEN"
	ErrBadManifest     = "E_BAD_MANIFEST"
	ErrBadEvent        = "E_BAD_EVENT"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNotLoggedIn:     {},
	ErrNoPermission:    {},
	ErrUnknownPlayer:   {},
	ErrPeerOffline:     {},
	ErrUnknownLocation: {},
	ErrLocationTaken:   {},
	ErrBadManifest:     {},
	ErrBadEvent:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
