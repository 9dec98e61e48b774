package transport

import (
	"net"
	"os"

	"github.com/roadrunner-server/errors"
)

const listenerOp = errors.Op("transport_listener")

// Endpoint describes where the control channel listens and how PHP should
// dial back (unix_socket_name, localhost_name,
// localhost_name_bind).
type Endpoint struct {
	UnixSocketPath string // non-empty selects a Unix-domain listener
	BindHost       string // TCP bind host, used when UnixSocketPath == ""
	AdvertiseHost  string // TCP host PHP is told to dial; defaults to BindHost
}

// Listen creates the listener the handshake accept loop races against, and
// returns the socket URI PHP should dial (used in the handshake line).
func Listen(ep Endpoint) (net.Listener, string, error) {
	if ep.UnixSocketPath != "" {
		_ = os.Remove(ep.UnixSocketPath)
		ln, err := net.Listen("unix", ep.UnixSocketPath)
		if err != nil {
			return nil, "", errors.E(listenerOp, err)
		}
		return ln, "unix://" + ep.UnixSocketPath, nil
	}

	host := ep.BindHost
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, "", errors.E(listenerOp, err)
	}

	advertise := ep.AdvertiseHost
	if advertise == "" {
		advertise = host
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	return ln, "tcp://" + net.JoinHostPort(advertise, port), nil
}

// CloseAndClean closes ln and, for a Unix-domain listener, removes the
// socket file as part of session teardown.
func CloseAndClean(ln net.Listener, ep Endpoint) error {
	err := ln.Close()
	if ep.UnixSocketPath != "" {
		_ = os.Remove(ep.UnixSocketPath)
	}
	if err != nil {
		return errors.E(listenerOp, err)
	}
	return nil
}
