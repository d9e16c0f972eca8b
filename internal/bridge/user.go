package bridge

import (
	"encoding/json"
	"fmt"
)

// Attribute is one name/value pair reported by the auth collaborator.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UserProfile is the signed-in user as seen by the rendering surface.
// Attribute keys are passed through without interpretation.
type UserProfile struct {
	Attributes map[string]string `json:"attributes"`
}

// ProfileFromAttributes builds a profile from the collaborator's attribute list.
// Later duplicates win.
func ProfileFromAttributes(attrs []Attribute) UserProfile {
	p := UserProfile{Attributes: make(map[string]string, len(attrs))}
	for _, a := range attrs {
		p.Attributes[a.Name] = a.Value
	}
	return p
}

// UserState is the closed set of user states. Only the four types in this
// file implement it.
type UserState interface {
	isUserState()
	String() string
}

type Unauthenticated struct{}

type Offline struct{}

type AllowanceExceeded struct{}

type Authenticated struct {
	Profile UserProfile
}

func (Unauthenticated) isUserState()   {}
func (Offline) isUserState()           {}
func (AllowanceExceeded) isUserState() {}
func (Authenticated) isUserState()     {}

func (Unauthenticated) String() string   { return "unauthenticated" }
func (Offline) String() string           { return "offline" }
func (AllowanceExceeded) String() string { return "allowance exceeded" }
func (Authenticated) String() string     { return "authenticated" }

// MarshalUserState encodes a state in the shape the drawing surface expects:
// null, "offline", "allowance exceeded" or the profile object.
func MarshalUserState(u UserState) ([]byte, error) {
	switch u := u.(type) {
	case nil, Unauthenticated:
		return []byte("null"), nil
	case Offline:
		return json.Marshal("offline")
	case AllowanceExceeded:
		return json.Marshal("allowance exceeded")
	case Authenticated:
		return json.Marshal(u.Profile)
	default:
		return nil, fmt.Errorf("unknown user state %T", u)
	}
}

// UnmarshalUserState is the inverse of MarshalUserState.
func UnmarshalUserState(data []byte) (UserState, error) {
	if len(data) == 0 || string(data) == "null" {
		return Unauthenticated{}, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "offline":
			return Offline{}, nil
		case "allowance exceeded":
			return AllowanceExceeded{}, nil
		default:
			return nil, fmt.Errorf("unknown user state %q", s)
		}
	}
	var p UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}
	return Authenticated{Profile: p}, nil
}

// InitMsg tells the drawing surface what to open first.
type InitMsg struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

const (
	InitPaintApp   = "init paint app"
	InitNewDrawing = "init new drawing"
	InitDrawing    = "init drawing"
	InitImage      = "init image"
)

// Manifest is deployment context passed through to the surface untouched.
type Manifest struct {
	Init        InitMsg `json:"initMsg"`
	MountPath   string  `json:"mountPath"`
	BuildNumber int     `json:"buildNumber"`
}

// InitialFlags is handed to the surface exactly once, at mount.
type InitialFlags struct {
	User     UserState
	Manifest Manifest
}

func (f InitialFlags) MarshalJSON() ([]byte, error) {
	user, err := MarshalUserState(f.User)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		User     json.RawMessage `json:"user"`
		Manifest Manifest        `json:"manifest"`
	}{User: user, Manifest: f.Manifest})
}

func (f *InitialFlags) UnmarshalJSON(data []byte) error {
	var raw struct {
		User     json.RawMessage `json:"user"`
		Manifest Manifest        `json:"manifest"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	user, err := UnmarshalUserState(raw.User)
	if err != nil {
		return err
	}
	f.User = user
	f.Manifest = raw.Manifest
	return nil
}
