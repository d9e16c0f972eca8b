package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeOutbound_KnownTags(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Outbound
	}{
		{"save", `{"type":"save","payload":{"canvas":"data:x","name":"n"}}`, Save{Drawing: Drawing(`{"canvas":"data:x","name":"n"}`)}},
		{"steal focus", `{"type":"steal focus"}`, StealFocus{}},
		{"return focus", `{"type":"return focus","payload":null}`, ReturnFocus{}},
		{"download", `{"type":"download","payload":"cat.png"}`, Download{Filename: "cat.png"}},
		{"attempt login", `{"type":"attempt login","payload":{"username":"a","password":"b"}}`, AttemptLogin{Credentials: Credentials{Username: "a", Password: "b"}}},
		{"logout", `{"type":"logout"}`, Logout{}},
		{"open window", `{"type":"open new window","payload":"https://example.com"}`, OpenWindow{URL: "https://example.com"}},
		{"redirect", `{"type":"redirect page to","payload":"https://example.com/home"}`, RedirectTo{URL: "https://example.com/home"}},
		{"file upload", `{"type":"open up file upload"}`, OpenFileUpload{}},
		{"load drawing", `{"type":"load drawing","payload":"d-1"}`, LoadDrawing{ID: "d-1"}},
		{"track", `{"type":"track","payload":{"name":"clicked"}}`, Track{Event: json.RawMessage(`{"name":"clicked"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeOutbound([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeOutbound: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("decoded message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeOutbound_UnknownTag(t *testing.T) {
	_, err := DecodeOutbound([]byte(`{"type":"format hard drive","payload":1}`))
	var unrec *UnrecognizedMessageError
	if !errors.As(err, &unrec) {
		t.Fatalf("expected UnrecognizedMessageError, got %v", err)
	}
	if unrec.Tag != "format hard drive" {
		t.Fatalf("tag = %q, want %q", unrec.Tag, "format hard drive")
	}
}

func TestDecodeOutbound_RejectsMalformedPayloads(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"payload":"x"}`,
		`{"type":"download","payload":42}`,
		`{"type":"attempt login","payload":{"username":"a"}}`,
		`{"type":"save"}`,
	} {
		if _, err := DecodeOutbound([]byte(raw)); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestEncodeOutbound_RoundTripsSavePayloadVerbatim(t *testing.T) {
	payload := `{"canvas":"data:image/png;base64,AAAA","palette":["#fff"],"nameIsGenerated":true}`
	raw, err := EncodeOutbound(Save{Drawing: Drawing(payload)})
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	msg, err := DecodeOutbound(raw)
	if err != nil {
		t.Fatalf("DecodeOutbound: %v", err)
	}
	save, ok := msg.(Save)
	if !ok {
		t.Fatalf("decoded %T, want Save", msg)
	}
	if string(save.Drawing) != payload {
		t.Fatalf("payload = %s, want %s", save.Drawing, payload)
	}
}

func TestEncodeInbound_WireShapes(t *testing.T) {
	tests := []struct {
		msg  Inbound
		want string
	}{
		{LoginSucceeded{Profile: UserProfile{Attributes: map[string]string{"email": "a@x.com"}}}, `{"type":"login succeeded","payload":{"attributes":{"email":"a@x.com"}}}`},
		{LoginFailed{Reason: "bad password"}, `{"type":"login failed","payload":"bad password"}`},
		{LogoutSucceeded{}, `{"type":"logout succeeded"}`},
		{FileNotImage{}, `{"type":"file not image"}`},
		{FileReadFailed{Reason: "file too large"}, `{"type":"file read failed","payload":"file too large"}`},
		{KeyEvent{Code: "a", Shift: true, Direction: KeyDown}, `{"type":"key event","payload":{"code":"a","shift":true,"meta":false,"ctrl":false,"direction":"down"}}`},
		{DrawingLoadFailed{ID: "d-1", Reason: "not found"}, `{"type":"drawing load failed","payload":{"id":"d-1","reason":"not found"}}`},
	}
	for _, tt := range tests {
		got, err := EncodeInbound(tt.msg)
		if err != nil {
			t.Fatalf("EncodeInbound(%T): %v", tt.msg, err)
		}
		if string(got) != tt.want {
			t.Errorf("EncodeInbound(%T) = %s, want %s", tt.msg, got, tt.want)
		}
		back, err := DecodeInbound(got)
		if err != nil {
			t.Fatalf("DecodeInbound(%s): %v", got, err)
		}
		if back.Tag() != tt.msg.Tag() {
			t.Errorf("round trip tag = %q, want %q", back.Tag(), tt.msg.Tag())
		}
	}
}

func TestInitialFlags_JSONShape(t *testing.T) {
	manifest := Manifest{Init: InitMsg{Type: InitDrawing, Payload: "d-9"}, MountPath: "/paint", BuildNumber: 7}
	tests := []struct {
		user UserState
		want string
	}{
		{Unauthenticated{}, `null`},
		{Offline{}, `"offline"`},
		{AllowanceExceeded{}, `"allowance exceeded"`},
		{Authenticated{Profile: UserProfile{Attributes: map[string]string{"email": "a@x.com"}}}, `{"attributes":{"email":"a@x.com"}}`},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(InitialFlags{User: tt.user, Manifest: manifest})
		if err != nil {
			t.Fatalf("marshal flags: %v", err)
		}
		var probe struct {
			User json.RawMessage `json:"user"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			t.Fatalf("unmarshal probe: %v", err)
		}
		if string(probe.User) != tt.want {
			t.Errorf("user = %s, want %s", probe.User, tt.want)
		}

		var back InitialFlags
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal flags: %v", err)
		}
		if diff := cmp.Diff(InitialFlags{User: tt.user, Manifest: manifest}, back); diff != "" {
			t.Errorf("flags round trip (-want +got):\n%s", diff)
		}
	}
}

func TestProfileFromAttributes_Verbatim(t *testing.T) {
	p := ProfileFromAttributes([]Attribute{{Name: "email", Value: "a@x.com"}, {Name: "custom:Plan", Value: "pro"}})
	want := map[string]string{"email": "a@x.com", "custom:Plan": "pro"}
	if diff := cmp.Diff(want, p.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestReasonOf_StripsOrigin(t *testing.T) {
	err := &CollaboratorFailure{Origin: OriginAuth, Op: "login", Err: errors.New("incorrect username or password")}
	if got := ReasonOf(err); got != "incorrect username or password" {
		t.Fatalf("ReasonOf = %q", got)
	}
	if got := err.Error(); got != "auth login: incorrect username or password" {
		t.Fatalf("Error = %q", got)
	}
}
