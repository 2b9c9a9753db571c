// Package udpmcast implements a LocalTalk-like Port driver that tunnels
// LLAP frames over a UDP multicast group, grounded on the original
// implementation's LToUDP driver. Every participant on the group sees
// every frame; each instance filters out its own transmissions by a
// random sender ID stamped on every outgoing datagram.
package udpmcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
)

const (
	groupAddr = "239.192.76.84" // last two octets spell 'LT'
	udpPort   = 1954

	llapENQ = 0x81
	llapACK = 0x82
	llapRTS = 0x84 // unused by this driver, reserved for parity with real LocalTalk

	selectTimeout     = 250 * time.Millisecond
	enqInterval       = 200 * time.Millisecond
	enqAttempts       = 8
	senderIDFrameSize = 16
)

// Port tunnels a non-extended LocalTalk-like cable over IPv4 multicast.
type Port struct {
	*port.Base

	ifaceAddr string
	log       *logger.Logger

	mu       sync.Mutex
	fd       int
	bound    bool
	owner    port.Inbounder
	senderID [senderIDFrameSize]byte

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New returns an unstarted Port bound to ifaceAddr (the local interface
// address to join the multicast group on), configured for the given
// node-local network number (0 if unknown; it will be learned via RTMP).
func New(label, ifaceAddr string, network uint16, log *logger.Logger) *Port {
	base := port.NewBase(label, false)
	if network != 0 {
		_ = base.SetNetworkRange(network, network)
		base.SetAcquired(network, 0)
	}
	id := uuid.New()
	p := &Port{Base: base, ifaceAddr: ifaceAddr, log: log.WithComponent("port.udpmcast")}
	copy(p.senderID[:], id[:])
	return p
}

// Start opens the multicast socket, joins the group, and begins the
// receive/node-acquisition loop in a background goroutine.
func (p *Port) Start(owner port.Inbounder) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return fmt.Errorf("udpmcast: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("udpmcast: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("udpmcast: SO_REUSEPORT: %w", err)
	}
	var groupIP [4]byte
	copy(groupIP[:], parseIPv4(groupAddr))
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: udpPort, Addr: groupIP}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("udpmcast: bind: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("udpmcast: IP_MULTICAST_TTL: %w", err)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], parseIPv4(groupAddr))
	copy(mreq.Interface[:], parseIPv4(p.ifaceAddr))
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return fmt.Errorf("udpmcast: IP_ADD_MEMBERSHIP: %w", err)
	}

	p.mu.Lock()
	p.fd = fd
	p.bound = true
	p.owner = owner
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	go p.run()
	return nil
}

// Stop is idempotent: it signals the receive loop, waits for it to join,
// and closes the socket.
func (p *Port) Stop() error {
	p.mu.Lock()
	if !p.bound {
		p.mu.Unlock()
		return nil
	}
	p.bound = false
	stopCh, stoppedCh, fd := p.stopCh, p.stoppedCh, p.fd
	p.mu.Unlock()

	close(stopCh)
	<-stoppedCh
	return unix.Close(fd)
}

func (p *Port) sendFrame(destNode uint8, llapType byte, body []byte) {
	p.mu.Lock()
	fd, bound, node := p.fd, p.bound, p.Node()
	p.mu.Unlock()
	if !bound {
		return
	}
	frame := make([]byte, 0, senderIDFrameSize+3+len(body))
	frame = append(frame, p.senderID[:]...)
	frame = append(frame, destNode, node, llapType)
	frame = append(frame, body...)

	var groupIP [4]byte
	copy(groupIP[:], parseIPv4(groupAddr))
	_ = unix.Sendto(fd, frame, 0, &unix.SockaddrInet4{Port: udpPort, Addr: groupIP})
}

// Unicast addresses destNode directly; the cable is physically broadcast
// so this is the same wire operation as Broadcast, differing only in the
// destination node byte.
func (p *Port) Unicast(network uint16, node uint8, d ddp.Datagram) error {
	if network != 0 && network != p.Network() {
		return nil
	}
	if p.Node() == 0 {
		return nil
	}
	body, llapType, err := p.encode(d)
	if err != nil {
		return err
	}
	p.sendFrame(node, llapType, body)
	return nil
}

// Broadcast rewrites the destination to (0,0xFF) if needed and sends it to
// every listener on the group.
func (p *Port) Broadcast(d ddp.Datagram) error {
	if p.Node() == 0 {
		return nil
	}
	if d.DestinationNetwork != 0 || d.DestinationNode != 0xFF {
		d = d.Copy(ddp.WithDestinationNetwork(0), ddp.WithDestinationNode(0xFF))
	}
	body, llapType, err := p.encode(d)
	if err != nil {
		return err
	}
	p.sendFrame(0xFF, llapType, body)
	return nil
}

// Multicast falls back to a no-op: LocalTalk-like cables have no
// zone-scoped multicast group, per spec.md §4.2.
func (p *Port) Multicast(zoneName string, d ddp.Datagram) error {
	return nil
}

// MulticastAddress always reports no address: this driver has no
// zone-scoped multicast group, so ZIP GetNetInfo (spec.md §4.7) falls
// back to USE_BROADCAST for every zone on this cable.
func (p *Port) MulticastAddress(zoneName string) []byte {
	return nil
}

func (p *Port) encode(d ddp.Datagram) (body []byte, llapType byte, err error) {
	network := p.Network()
	if d.DestinationNetwork == d.SourceNetwork && (d.DestinationNetwork == 0 || d.DestinationNetwork == network) {
		body, err = d.EncodeShortHeader()
		return body, 1, err
	}
	body, err = d.EncodeLongHeader()
	return body, 2, err
}

func (p *Port) run() {
	defer close(p.stoppedCh)

	desiredNode := uint8(0xFE)
	attempts := 0
	lastAttempt := time.Now()
	buf := make([]byte, 65507)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		fd := p.fd
		p.mu.Unlock()
		_ = unix.SetNonblock(fd, true)

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if p.Node() == 0 && time.Since(lastAttempt) >= enqInterval {
				lastAttempt = time.Now()
				if attempts >= enqAttempts {
					p.Base.SetAcquired(p.Network(), desiredNode)
					p.log.PortStateChanged(p.String(), int(p.Network()), int(desiredNode))
				} else {
					p.sendFrame(desiredNode, llapENQ, nil)
					attempts++
				}
			}
			time.Sleep(selectTimeout)
			continue
		}
		if n < senderIDFrameSize+3 || bytesEqual(buf[:senderIDFrameSize], p.senderID[:]) {
			continue
		}
		destNode, srcNode, llapType := buf[senderIDFrameSize], buf[senderIDFrameSize+1], buf[senderIDFrameSize+2]
		payload := buf[senderIDFrameSize+3 : n]

		switch {
		case llapType != llapENQ && llapType != llapACK && len(payload) >= 5:
			d, derr := ddp.DecodeLLAPFrame(append([]byte{destNode, srcNode, llapType}, payload...))
			if derr == nil && p.owner != nil {
				p.owner.Inbound(d, p)
			}
		case llapType == llapENQ && p.Node() != 0 && p.Node() == destNode:
			p.sendFrame(p.Node(), llapACK, nil)
		case llapType == llapACK && p.Node() == 0 && desiredNode == destNode:
			attempts = 0
			desiredNode--
			if desiredNode == 0 {
				desiredNode = 0xFE
			}
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseIPv4(s string) []byte {
	out := make([]byte, 4)
	var parts [4]int
	idx, cur := 0, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			parts[idx] = cur
			idx++
			cur = 0
			continue
		}
		cur = cur*10 + int(c-'0')
	}
	parts[idx] = cur
	for i, v := range parts {
		out[i] = byte(v)
	}
	return out
}

var _ port.Port = (*Port)(nil)
