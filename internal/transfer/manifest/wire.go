package manifest

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"caravan.ai/internal/codec/descriptor"
	"caravan.ai/internal/protocol"
)

// MaxDecodedSize bounds the decompressed manifest JSON.
const MaxDecodedSize = 64 << 20

//go:embed schemas/manifest.schema.json
var schemaFS embed.FS

type codecs struct {
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	schema *jsonschema.Schema
}

var wireCodecs = sync.OnceValues(func() (*codecs, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		return nil, err
	}
	schema, err := protocol.CompileSchema(schemaFS, "manifest.schema.json")
	if err != nil {
		return nil, err
	}
	return &codecs{enc: enc, dec: dec, schema: schema}, nil
})

// Encode renders m as base64(zstd(json)).
func Encode(m *Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	c, err := wireCodecs()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("manifest %s: %w", m.ID, err)
	}
	return base64.StdEncoding.EncodeToString(c.enc.EncodeAll(raw, nil)), nil
}

// Decode reverses Encode and validates the manifest JSON against the
// embedded schema before unmarshalling it. Descriptor fields that fail to
// parse are left absent; see Faults.
func Decode(body string) (*Manifest, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	c, err := wireCodecs()
	if err != nil {
		return nil, err
	}
	packed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptBody, err)
	}
	raw, err := c.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptBody, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrCorruptBody, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Faults collects per-field parse faults from every descriptor.
func (m *Manifest) Faults() []descriptor.FieldFault {
	var out []descriptor.FieldFault
	lists := [][]*descriptor.Descriptor{m.Agents, m.Creatures, m.Items, m.Foreign}
	for _, l := range lists {
		for _, d := range l {
			out = append(out, d.Faults()...)
		}
	}
	return out
}
