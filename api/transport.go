// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Collaborator contracts consumed by the connection registry: the transport
// that owns live sockets and the authenticator that maps a handshake to an
// identity.

package api

import "net/http"

// Close codes used when the registry tears down a connection on its own.
const (
	CloseNormal        = 1000
	CloseInternalError = 1011
)

// Transport owns the raw connections addressed by integer descriptors.
type Transport interface {
	// Push sends payload to the descriptor. Delivery is not acknowledged.
	Push(fd int, payload []byte) error

	// IsEstablished reports whether the descriptor is still an open connection.
	IsEstablished(fd int) bool

	// Disconnect closes the connection with a close code and reason.
	Disconnect(fd int, code int, message string) error
}

// Request describes a connection being registered.
type Request struct {
	// FD is the descriptor the transport assigned to the connection.
	FD int
	// HTTP is the upgrade request, if any.
	HTTP *http.Request
}

// Authenticator resolves the identity that groups a connection.
// A rejection is reported as *AuthError.
type Authenticator interface {
	Authenticate(req Request, params ...any) (string, error)
}

// AuthenticatorFunc adapts a plain function to Authenticator.
type AuthenticatorFunc func(req Request, params ...any) (string, error)

// Authenticate calls f(req, params...).
func (f AuthenticatorFunc) Authenticate(req Request, params ...any) (string, error) {
	return f(req, params...)
}
