package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Envelope is the {type, payload} frame used on both ports.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const outboundSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1}
  },
  "allOf": [
    {
      "if": {"required": ["type"], "properties": {"type": {"enum": ["download", "open new window", "redirect page to", "load drawing"]}}},
      "then": {"required": ["payload"], "properties": {"payload": {"type": "string"}}}
    },
    {
      "if": {"required": ["type"], "properties": {"type": {"const": "attempt login"}}},
      "then": {
        "required": ["payload"],
        "properties": {
          "payload": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
              "username": {"type": "string"},
              "password": {"type": "string"}
            }
          }
        }
      }
    },
    {
      "if": {"required": ["type"], "properties": {"type": {"const": "save"}}},
      "then": {"required": ["payload"]}
    }
  ]
}`

var outboundSchema = compileSchema("outbound.json", outboundSchemaJSON)

func compileSchema(name, src string) *jsonschema.Schema {
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

// DecodeOutbound parses and validates one outbound frame.
// Unknown tags yield *UnrecognizedMessageError.
func DecodeOutbound(data []byte) (Outbound, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse outbound message: %w", err)
	}
	if err := outboundSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid outbound message: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	str := func() string {
		var s string
		_ = json.Unmarshal(env.Payload, &s)
		return s
	}

	switch env.Type {
	case TagSave:
		return Save{Drawing: Drawing(bytes.Clone(env.Payload))}, nil
	case TagStealFocus:
		return StealFocus{}, nil
	case TagReturnFocus:
		return ReturnFocus{}, nil
	case TagDownload:
		return Download{Filename: str()}, nil
	case TagAttemptLogin:
		var creds Credentials
		if err := json.Unmarshal(env.Payload, &creds); err != nil {
			return nil, fmt.Errorf("decode credentials: %w", err)
		}
		return AttemptLogin{Credentials: creds}, nil
	case TagLogout:
		return Logout{}, nil
	case TagOpenWindow:
		return OpenWindow{URL: str()}, nil
	case TagRedirectTo:
		return RedirectTo{URL: str()}, nil
	case TagOpenFileUpload:
		return OpenFileUpload{}, nil
	case TagLoadDrawing:
		return LoadDrawing{ID: str()}, nil
	case TagTrack:
		return Track{Event: bytes.Clone(env.Payload)}, nil
	default:
		return nil, &UnrecognizedMessageError{Tag: env.Type}
	}
}

// EncodeOutbound is the inverse of DecodeOutbound.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case Save:
		payload = json.RawMessage(m.Drawing)
	case Download:
		payload = m.Filename
	case AttemptLogin:
		payload = m.Credentials
	case OpenWindow:
		payload = m.URL
	case RedirectTo:
		payload = m.URL
	case LoadDrawing:
		payload = m.ID
	case Track:
		payload = m.Event
	case StealFocus, ReturnFocus, Logout, OpenFileUpload:
	case nil:
		return nil, &UnrecognizedMessageError{}
	default:
		return nil, &UnrecognizedMessageError{Tag: msg.Tag()}
	}
	return marshalEnvelope(msg.Tag(), payload)
}

type drawingPayload struct {
	ID      string          `json:"id"`
	Drawing json.RawMessage `json:"drawing,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// EncodeInbound renders an inbound message as a {type, payload} frame.
func EncodeInbound(msg Inbound) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case LoginSucceeded:
		payload = m.Profile
	case LoginFailed:
		payload = m.Reason
	case LogoutFailed:
		payload = m.Reason
	case FileRead:
		payload = m.DataURL
	case FileReadFailed:
		payload = m.Reason
	case KeyEvent:
		payload = m
	case DrawingSaved:
		payload = drawingPayload{ID: m.ID}
	case DrawingSaveFailed:
		payload = m.Reason
	case DrawingLoaded:
		payload = drawingPayload{ID: m.ID, Drawing: json.RawMessage(m.Drawing)}
	case DrawingLoadFailed:
		payload = drawingPayload{ID: m.ID, Reason: m.Reason}
	case LogoutSucceeded, FileNotImage:
	default:
		return nil, fmt.Errorf("unknown inbound message %T", msg)
	}
	return marshalEnvelope(msg.Tag(), payload)
}

// DecodeInbound is the inverse of EncodeInbound.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	str := func() (string, error) {
		var s string
		err := json.Unmarshal(env.Payload, &s)
		return s, err
	}
	switch env.Type {
	case TagLoginSucceeded:
		var p UserProfile
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return LoginSucceeded{Profile: p}, nil
	case TagLoginFailed:
		s, err := str()
		return LoginFailed{Reason: s}, err
	case TagLogoutSucceeded:
		return LogoutSucceeded{}, nil
	case TagLogoutFailed:
		s, err := str()
		return LogoutFailed{Reason: s}, err
	case TagFileRead:
		s, err := str()
		return FileRead{DataURL: s}, err
	case TagFileNotImage:
		return FileNotImage{}, nil
	case TagFileReadFailed:
		s, err := str()
		return FileReadFailed{Reason: s}, err
	case TagKeyEvent:
		var k KeyEvent
		err := json.Unmarshal(env.Payload, &k)
		return k, err
	case TagDrawingSaved:
		var d drawingPayload
		err := json.Unmarshal(env.Payload, &d)
		return DrawingSaved{ID: d.ID}, err
	case TagDrawingSaveFailed:
		s, err := str()
		return DrawingSaveFailed{Reason: s}, err
	case TagDrawingLoaded:
		var d drawingPayload
		err := json.Unmarshal(env.Payload, &d)
		return DrawingLoaded{ID: d.ID, Drawing: Drawing(d.Drawing)}, err
	case TagDrawingLoadFailed:
		var d drawingPayload
		err := json.Unmarshal(env.Payload, &d)
		return DrawingLoadFailed{ID: d.ID, Reason: d.Reason}, err
	default:
		return nil, fmt.Errorf("unknown inbound message %q", env.Type)
	}
}

func marshalEnvelope(tag string, payload any) ([]byte, error) {
	env := Envelope{Type: tag}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %q payload: %w", tag, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
