package protocol

// TransferBody carries one manifest, zstd-compressed and base64 encoded by
// the manifest wire codec.
type TransferBody struct {
	Manifest string `json:"manifest"`
}

// CommandKind selects an administrative command pushed to a peer.
type CommandKind int

const (
	CommandOp CommandKind = iota
	CommandDeop
	CommandBan
	CommandDisconnect
	CommandQuit
	CommandBroadcast
	CommandForceSave
)

var commandNames = [...]string{"op", "deop", "ban", "disconnect", "quit", "broadcast", "forcesave"}

func (k CommandKind) String() string {
	if k < 0 || int(k) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[k]
}

// ParseCommand maps an admin command name to its kind.
func ParseCommand(name string) (CommandKind, bool) {
	for i, n := range commandNames {
		if n == name {
			return CommandKind(i), true
		}
	}
	return 0, false
}

// CommandPacket (relay -> peer)
type CommandBody struct {
	Kind CommandKind `json:"kind"`
	Text string      `json:"text,omitempty"`
}

type EventStep int

const (
	// EventSend confirms to the sender that the event was delivered.
	EventSend EventStep = iota
	// EventReceive tells the target to apply the event.
	EventReceive
	// EventRecover tells the sender to refund the event cost.
	EventRecover
)

// EventKind indexes the price table.
type EventKind int

const (
	EventRaid EventKind = iota
	EventInfestation
	EventMechCluster
	EventToxicFallout
	EventManhunter
	EventWanderer
	EventFarmAnimals
	EventShipChunks
	EventTraderCaravan

	EventKindCount = 9
)

var eventNames = [EventKindCount]string{
	"raid", "infestation", "mech_cluster", "toxic_fallout", "manhunter",
	"wanderer", "farm_animals", "ship_chunks", "trader_caravan",
}

func (k EventKind) Valid() bool { return k >= 0 && int(k) < EventKindCount }

func (k EventKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return eventNames[k]
}

func ParseEventKind(name string) (EventKind, bool) {
	for i, n := range eventNames {
		if n == name {
			return EventKind(i), true
		}
	}
	return 0, false
}

// EventNames lists event kinds in price table order.
func EventNames() []string { return append([]string(nil), eventNames[:]...) }

// EventPacket (both directions)
type EventBody struct {
	Step EventStep `json:"step"`
	Kind EventKind `json:"kind"`
	From string    `json:"from"`
	To   string    `json:"to"`
}

// LoginPacket (peer -> relay)
type LoginBody struct {
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	ClientVersion string   `json:"client_version"`
	CatalogDigest string   `json:"catalog_digest,omitempty"`
	Locations     []string `json:"locations,omitempty"`
}

type LoginResult int

const (
	LoginSuccess LoginResult = iota
	LoginInvalid
	LoginBanned
	LoginWhitelist
	LoginWrongVersion
	LoginWrongCatalog
	LoginRegisterError
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginInvalid:
		return "invalid_login"
	case LoginBanned:
		return "banned"
	case LoginWhitelist:
		return "not_whitelisted"
	case LoginWrongVersion:
		return "wrong_version"
	case LoginWrongCatalog:
		return "wrong_catalog"
	case LoginRegisterError:
		return "register_error"
	}
	return "unknown"
}

// LoginResponsePacket (relay -> peer)
type LoginResponseBody struct {
	Result    LoginResult         `json:"result"`
	Message   string              `json:"message,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Admin     bool                `json:"admin,omitempty"`
	Prices    [EventKindCount]int `json:"prices"`
}

// PlayerRecountPacket (relay -> all peers)
type RecountBody struct {
	Players []string `json:"players"`
}

// ErrorPacket (relay -> peer)
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
