package sandbox

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNoFreePort is returned when the probe window is exhausted.
var ErrNoFreePort = errors.New("no free port in the allocation window")

// portTable deduplicates allocations across supervisors in this process.
// The bind probe alone cannot see a port that another session allocated but
// whose dev server has not bound yet.
var portTable = struct {
	sync.Mutex
	taken map[int]bool
}{taken: make(map[int]bool)}

// allocatePort probes listen addresses from floor across window ports and
// reserves the first free one.
func allocatePort(floor, window int) (int, error) {
	portTable.Lock()
	defer portTable.Unlock()

	for port := floor; port < floor+window; port++ {
		if portTable.taken[port] {
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		portTable.taken[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("%w: floor %d, window %d", ErrNoFreePort, floor, window)
}

// releasePort returns a port to the pool.
func releasePort(port int) {
	portTable.Lock()
	defer portTable.Unlock()
	delete(portTable.taken, port)
}
