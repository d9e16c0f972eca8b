// Package bridge defines the messages that cross the boundary between the
// drawing surface and the core, and the error taxonomy shared by both sides.
package bridge

import "encoding/json"

// Drawing is the surface-owned drawing payload. The core never inspects it.
type Drawing = json.RawMessage

// Credentials are forwarded to the auth collaborator as-is.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Outbound is a message from the surface to the core.
type Outbound interface {
	isOutbound()
	Tag() string
}

// Outbound wire tags.
const (
	TagSave           = "save"
	TagStealFocus     = "steal focus"
	TagReturnFocus    = "return focus"
	TagDownload       = "download"
	TagAttemptLogin   = "attempt login"
	TagLogout         = "logout"
	TagOpenWindow     = "open new window"
	TagRedirectTo     = "redirect page to"
	TagOpenFileUpload = "open up file upload"
	TagLoadDrawing    = "load drawing"
	TagTrack          = "track"
)

type Save struct{ Drawing Drawing }

type StealFocus struct{}

type ReturnFocus struct{}

type Download struct{ Filename string }

type AttemptLogin struct{ Credentials Credentials }

type Logout struct{}

type OpenWindow struct{ URL string }

type RedirectTo struct{ URL string }

type OpenFileUpload struct{}

type LoadDrawing struct{ ID string }

type Track struct{ Event json.RawMessage }

func (Save) isOutbound()           {}
func (StealFocus) isOutbound()     {}
func (ReturnFocus) isOutbound()    {}
func (Download) isOutbound()       {}
func (AttemptLogin) isOutbound()   {}
func (Logout) isOutbound()         {}
func (OpenWindow) isOutbound()     {}
func (RedirectTo) isOutbound()     {}
func (OpenFileUpload) isOutbound() {}
func (LoadDrawing) isOutbound()    {}
func (Track) isOutbound()          {}

func (Save) Tag() string           { return TagSave }
func (StealFocus) Tag() string     { return TagStealFocus }
func (ReturnFocus) Tag() string    { return TagReturnFocus }
func (Download) Tag() string       { return TagDownload }
func (AttemptLogin) Tag() string   { return TagAttemptLogin }
func (Logout) Tag() string         { return TagLogout }
func (OpenWindow) Tag() string     { return TagOpenWindow }
func (RedirectTo) Tag() string     { return TagRedirectTo }
func (OpenFileUpload) Tag() string { return TagOpenFileUpload }
func (LoadDrawing) Tag() string    { return TagLoadDrawing }
func (Track) Tag() string          { return TagTrack }

// FireAndForget reports whether msg never yields a correlated inbound message.
func FireAndForget(msg Outbound) bool {
	switch msg.(type) {
	case Track, OpenWindow, RedirectTo, OpenFileUpload, Download, StealFocus, ReturnFocus:
		return true
	default:
		return false
	}
}

// Inbound is a message from the core to the surface.
type Inbound interface {
	isInbound()
	Tag() string
}

// Inbound wire tags.
const (
	TagLoginSucceeded    = "login succeeded"
	TagLoginFailed       = "login failed"
	TagLogoutSucceeded   = "logout succeeded"
	TagLogoutFailed      = "logout failed"
	TagFileRead          = "file read"
	TagFileNotImage      = "file not image"
	TagFileReadFailed    = "file read failed"
	TagKeyEvent          = "key event"
	TagDrawingSaved      = "drawing saved"
	TagDrawingSaveFailed = "drawing save failed"
	TagDrawingLoaded     = "drawing loaded"
	TagDrawingLoadFailed = "drawing load failed"
)

// Direction is the key transition a KeyEvent reports.
type Direction string

const (
	KeyDown Direction = "down"
	KeyUp   Direction = "up"
)

type LoginSucceeded struct{ Profile UserProfile }

type LoginFailed struct{ Reason string }

type LogoutSucceeded struct{}

type LogoutFailed struct{ Reason string }

type FileRead struct{ DataURL string }

type FileNotImage struct{}

// FileReadFailed reports an image selection that could not be read, for
// example because it is over the upload limit.
type FileReadFailed struct{ Reason string }

type KeyEvent struct {
	Code      string    `json:"code"`
	Shift     bool      `json:"shift"`
	Meta      bool      `json:"meta"`
	Ctrl      bool      `json:"ctrl"`
	Direction Direction `json:"direction"`
}

type DrawingSaved struct{ ID string }

type DrawingSaveFailed struct{ Reason string }

type DrawingLoaded struct {
	ID      string
	Drawing Drawing
}

type DrawingLoadFailed struct {
	ID     string
	Reason string
}

func (LoginSucceeded) isInbound()    {}
func (LoginFailed) isInbound()       {}
func (LogoutSucceeded) isInbound()   {}
func (LogoutFailed) isInbound()      {}
func (FileRead) isInbound()          {}
func (FileNotImage) isInbound()      {}
func (FileReadFailed) isInbound()    {}
func (KeyEvent) isInbound()          {}
func (DrawingSaved) isInbound()      {}
func (DrawingSaveFailed) isInbound() {}
func (DrawingLoaded) isInbound()     {}
func (DrawingLoadFailed) isInbound() {}

func (LoginSucceeded) Tag() string    { return TagLoginSucceeded }
func (LoginFailed) Tag() string       { return TagLoginFailed }
func (LogoutSucceeded) Tag() string   { return TagLogoutSucceeded }
func (LogoutFailed) Tag() string      { return TagLogoutFailed }
func (FileRead) Tag() string          { return TagFileRead }
func (FileNotImage) Tag() string      { return TagFileNotImage }
func (FileReadFailed) Tag() string    { return TagFileReadFailed }
func (KeyEvent) Tag() string          { return TagKeyEvent }
func (DrawingSaved) Tag() string      { return TagDrawingSaved }
func (DrawingSaveFailed) Tag() string { return TagDrawingSaveFailed }
func (DrawingLoaded) Tag() string     { return TagDrawingLoaded }
func (DrawingLoadFailed) Tag() string { return TagDrawingLoadFailed }
