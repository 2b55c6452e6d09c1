// Package udppool implements the shared UDP socket pool: RTP/RTCP socket
// pairs whose port numbers satisfy "RTP port even, RTCP port = RTP+1",
// reused across sessions where possible.
package udppool

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/coldcutmedia/rtspreflect/pkg/liberrors"
)

// Pair is an acquired RTP/RTCP UDP socket pair.
type Pair struct {
	RTP  *net.UDPConn
	RTCP *net.UDPConn

	pool *Pool
	port int
}

// Release returns the pair to the pool for reuse.
func (p *Pair) Release() {
	p.pool.release(p)
}

// SetTTL applies the TTL negotiated via the Transport header's optional
// "ttl" parameter to both sockets of the pair.
func (p *Pair) SetTTL(ttl int) error {
	if err := ipv4.NewConn(p.RTP).SetTTL(ttl); err != nil {
		return err
	}
	return ipv4.NewConn(p.RTCP).SetTTL(ttl)
}

// Pool allocates even/odd UDP port pairs within [portMin, portMax] bound to
// a given local address, and reuses released pairs where possible.
type Pool struct {
	localAddr string
	portMin   int
	portMax   int

	mutex    sync.Mutex
	nextPort int
	free     []*Pair
	inUse    map[int]*Pair
}

// New allocates a Pool bound to localAddr, handing out ports in
// [portMin, portMax].
func New(localAddr string, portMin, portMax int) *Pool {
	if portMin%2 != 0 {
		portMin++
	}
	return &Pool{
		localAddr: localAddr,
		portMin:   portMin,
		portMax:   portMax,
		nextPort:  portMin,
		inUse:     make(map[int]*Pair),
	}
}

// Acquire returns a free pair if one is available, otherwise binds a new
// even/odd pair.
func (pl *Pool) Acquire() (*Pair, error) {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	if len(pl.free) > 0 {
		p := pl.free[len(pl.free)-1]
		pl.free = pl.free[:len(pl.free)-1]
		pl.inUse[p.port] = p
		return p, nil
	}

	for port := pl.nextPort; port <= pl.portMax-1; port += 2 {
		rtpConn, rtcpConn, err := bindPair(pl.localAddr, port)
		if err != nil {
			continue
		}

		pl.nextPort = port + 2
		p := &Pair{RTP: rtpConn, RTCP: rtcpConn, pool: pl, port: port}
		pl.inUse[port] = p
		return p, nil
	}

	return nil, liberrors.ErrServerPortsExhausted{}
}

func bindPair(localAddr string, rtpPort int) (*net.UDPConn, *net.UDPConn, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(localAddr), Port: rtpPort})
	if err != nil {
		return nil, nil, err
	}

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(localAddr), Port: rtpPort + 1})
	if err != nil {
		rtpConn.Close()
		return nil, nil, err
	}

	return rtpConn, rtcpConn, nil
}

func (pl *Pool) release(p *Pair) {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	delete(pl.inUse, p.port)
	pl.free = append(pl.free, p)
}

// Close shuts down every socket owned by the pool.
func (pl *Pool) Close() {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()

	for _, p := range pl.inUse {
		p.RTP.Close()
		p.RTCP.Close()
	}
	for _, p := range pl.free {
		p.RTP.Close()
		p.RTCP.Close()
	}
}

// String implements fmt.Stringer for diagnostics.
func (pl *Pool) String() string {
	pl.mutex.Lock()
	defer pl.mutex.Unlock()
	return fmt.Sprintf("udppool(%s, in_use=%d, free=%d)", pl.localAddr, len(pl.inUse), len(pl.free))
}
