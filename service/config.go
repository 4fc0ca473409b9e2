package service

import (
	"net"

	"github.com/kview/kview/service/debugger"
)

// Config provides the configuration to start a Debugger and expose it with a
// service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Debugger describes the backend the Debugger connects to.
	Debugger debugger.Config

	// AcceptMulti configures the server to accept multiple connection.
	// Note that the server API is not reentrant and clients will have to coordinate.
	AcceptMulti bool

	// CheckLocalConnUser is true if the server should check that connections
	// to a loopback listener come from the user running the server.
	CheckLocalConnUser bool

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
