package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://caravan.ai/schemas/"

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// CompileSchema compiles an embedded schema by file name.
func CompileSchema(fsys embed.FS, name string) (*jsonschema.Schema, error) {
	raw, err := fsys.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	url := schemaBaseURL + name
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return c.Compile(url)
}

var packetSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return CompileSchema(schemaFS, "packet.schema.json")
})

// ValidatePacket checks raw packet JSON against the packet schema.
func ValidatePacket(raw []byte) error {
	s, err := packetSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
