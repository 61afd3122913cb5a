package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

// Packet types.
const (
	TypeTransfer      = "TransferPacket"
	TypeCommand       = "CommandPacket"
	TypeEvent         = "EventPacket"
	TypeLogin         = "LoginPacket"
	TypeLoginResponse = "LoginResponsePacket"
	TypeRecount       = "PlayerRecountPacket"
	TypeError         = "ErrorPacket"
)

// Packet is the unit handed to the transport: a type tag plus a typed body.
type Packet struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Body            json.RawMessage `json:"body,omitempty"`
}

// NewPacket marshals body under the given type tag.
func NewPacket(typ string, body any) (Packet, error) {
	p := Packet{Type: typ, ProtocolVersion: Version}
	if body == nil {
		return p, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Packet{}, fmt.Errorf("%s body: %w", typ, err)
	}
	p.Body = raw
	return p, nil
}

// MustPacket is NewPacket for bodies that cannot fail to marshal.
func MustPacket(typ string, body any) Packet {
	p, err := NewPacket(typ, body)
	if err != nil {
		panic(err)
	}
	return p
}

// DecodeBody unmarshals the body into v.
func (p Packet) DecodeBody(v any) error {
	if len(p.Body) == 0 {
		return fmt.Errorf("%s: empty body", p.Type)
	}
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("%s body: %w", p.Type, err)
	}
	return nil
}

func DecodePacket(b []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return Packet{}, err
	}
	if p.Type == "" {
		return Packet{}, fmt.Errorf("packet without type")
	}
	return p, nil
}
