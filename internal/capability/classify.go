package capability

import (
	"errors"
	"net"
	"strings"

	"github.com/basket/paintbridge/internal/bridge"
)

func reasonIs(err, sentinel error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	return strings.TrimSpace(bridge.ReasonOf(err)) == sentinel.Error()
}

// IsNoSession reports whether err means nobody is signed in.
func IsNoSession(err error) bool {
	return reasonIs(err, ErrNoSession)
}

// IsNotSignedIn reports whether a logout failed only because nobody was signed in.
func IsNotSignedIn(err error) bool {
	return reasonIs(err, ErrNotSignedIn)
}

// IsNetworkFailure reports whether err is a transport failure reaching the
// collaborator, as opposed to a failure reported by it.
func IsNetworkFailure(err error) bool {
	if err == nil {
		return false
	}
	if reasonIs(err, ErrNetworkFailure) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
