package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/paintbridge/internal/bridge"
)

// Frame kinds.
const (
	// server -> page
	KindFlags   = "flags"
	KindInbound = "inbound"
	KindEnv     = "env"
	KindError   = "error"

	// page -> server
	KindOutbound = "outbound"
	KindKey      = "key"
	KindResult   = "result"
)

// Environment operations carried in env frames. Capture and pick expect a
// result frame with the same id.
const (
	OpOpenWindow  = "open window"
	OpNavigate    = "navigate"
	OpSaveAs      = "save as"
	OpCapture     = "capture"
	OpPick        = "pick"
	OpUnloadGuard = "unload guard"
)

// Frame is the single websocket message shape in both directions.
type Frame struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Op   string `json:"op,omitempty"`

	Flags   *bridge.InitialFlags `json:"flags,omitempty"`
	Message json.RawMessage      `json:"message,omitempty"`
	Key     *bridge.KeyEvent     `json:"key,omitempty"`

	URL   string `json:"url,omitempty"`
	Name  string `json:"name,omitempty"`
	MIME  string `json:"mime,omitempty"`
	Data  []byte `json:"data,omitempty"`
	Armed *bool  `json:"armed,omitempty"`
	Error string `json:"error,omitempty"`
}

const clientFrameSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"enum": ["outbound", "key", "result"]},
    "id": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "outbound"}}},
      "then": {"required": ["message"], "properties": {"message": {"type": "object"}}}
    },
    {
      "if": {"properties": {"kind": {"const": "key"}}},
      "then": {
        "required": ["key"],
        "properties": {
          "key": {
            "type": "object",
            "required": ["code"],
            "properties": {
              "code": {"type": "string"},
              "direction": {"enum": ["up", "down"]}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"kind": {"const": "result"}}},
      "then": {"required": ["id"], "properties": {"id": {"minLength": 1}}}
    }
  ]
}`

var clientFrameSchema = mustCompile("client-frame.json", clientFrameSchemaJSON)

func mustCompile(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// decodeClientFrame validates raw against the client frame schema before
// decoding it.
func decodeClientFrame(raw []byte) (Frame, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if err := clientFrameSchema.Validate(inst); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
