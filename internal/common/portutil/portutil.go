// Package portutil probes and allocates TCP ports for runtime gateways.
package portutil

import (
	"fmt"
	"net"
	"strconv"
)

// AllocateInRange returns the first free TCP port on host within [start, end].
// Each candidate is probed with a short-lived listener; a port that another
// process grabs between the probe and the actual bind will surface as a spawn
// error and the caller retries with a fresh allocation.
func AllocateInRange(host string, start, end int) (int, error) {
	if start <= 0 || end < start {
		return 0, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	for port := start; port <= end; port++ {
		if IsFree(host, port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// IsFree reports whether host:port can currently be bound.
func IsFree(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
