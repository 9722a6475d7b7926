package lifecycle

import (
	"fmt"
	"net"
)

// maxPortScan bounds the upward scan from the configured start port
// (spec.md §4.8 step 4: "cap search at start+1000").
const maxPortScan = 1000

// allocatePort returns requested if it is free. A requested port that is
// busy fails fast rather than silently falling back to a scan (spec.md §7:
// "Port already in use by foreign container -> Fail fast with 'port in use
// by X'") — the caller asked for that port specifically, so substituting a
// different one without telling them would make Deploy non-deterministic.
// With no port requested (requested == 0), scan upward from startPort.
// Freedom is checked by attempting a real local bind: a container with
// published ports occupies the host's network stack exactly like any other
// process would, so this catches container-bound ports the registry doesn't
// know about (spec.md §4.8 step 4: "not used by any running container
// regardless of registry").
func allocatePort(requested, startPort int) (int, error) {
	if requested != 0 {
		if !portFree(requested) {
			return 0, fmt.Errorf("lifecycle: port %d already in use", requested)
		}
		return requested, nil
	}
	for p := startPort; p <= startPort+maxPortScan; p++ {
		if portFree(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("lifecycle: no free port found scanning from %d", startPort)
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
