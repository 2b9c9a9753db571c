//go:build linux

// Package ethertap implements an EtherTalk-like Port driver over a raw
// AF_PACKET socket bound to a Linux network interface, grounded on the
// original implementation's EtherTalk tap driver: IEEE 802.2 SNAP framing
// carrying AppleTalk long-header datagrams, an address mapping table from
// (network, node) to hardware address, and the ELAP broadcast/multicast
// address conventions.
package ethertap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
	"github.com/wesleywu/atalk-router/internal/zone"
)

var (
	ieee8022Type1Header = [3]byte{0xAA, 0xAA, 0x03}
	snapHeaderAppleTalk = [5]byte{0x08, 0x00, 0x07, 0x80, 0x9B}

	elapBroadcastAddr    = [6]byte{0x09, 0x00, 0x07, 0xFF, 0xFF, 0xFF}
	elapMulticastPrefix  = [5]byte{0x09, 0x00, 0x07, 0x00, 0x00}
	elapMulticastAddrMax = 0xFC
)

const (
	addressMappingMaxAge = 10 * time.Second
	agingInterval        = 1 * time.Second
)

func ucaseChecksumMod(zoneName string, mod int) int {
	folded := zone.Fold(zoneName)
	sum := 0
	for i := 0; i < len(folded); i++ {
		sum = (sum + int(folded[i])) & 0xFFFF
		sum = ((sum << 1) | (sum >> 15)) & 0xFFFF
	}
	return sum % mod
}

func multicastAddress(zoneName string) [6]byte {
	idx := ucaseChecksumMod(zoneName, elapMulticastAddrMax+1)
	addr := [6]byte{elapMulticastPrefix[0], elapMulticastPrefix[1], elapMulticastPrefix[2], elapMulticastPrefix[3], elapMulticastPrefix[4], 0}
	addr[5] = byte(idx)
	return addr
}

type mapping struct {
	hw       [6]byte
	lastUsed time.Time
}

// Port is an EtherTalk-like Port bound to a real Linux interface via a raw
// AF_PACKET socket.
type Port struct {
	*port.Base

	ifaceName string
	netnsName string
	hwAddr    [6]byte
	log       *logger.Logger

	mu      sync.Mutex
	fd      int
	ifindex int
	owner   port.Inbounder
	started bool

	amtMu sync.Mutex
	amt   map[[2]uint16]mapping // (network,node) -> mapping

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New returns an unstarted Port bound to the named Linux interface,
// optionally inside the named network namespace (empty for the default
// namespace). network_min/max describe the cable's configured range;
// pass 0/0 if the range is to be learned via RTMP.
func New(label, ifaceName, netnsName string, networkMin, networkMax uint16, log *logger.Logger) *Port {
	base := port.NewBase(label, true)
	if networkMin != 0 || networkMax != 0 {
		_ = base.SetNetworkRange(networkMin, networkMax)
	}
	return &Port{
		Base:      base,
		ifaceName: ifaceName,
		netnsName: netnsName,
		log:       log.WithComponent("port.ethertap"),
		amt:       make(map[[2]uint16]mapping),
	}
}

// Start opens the raw socket, resolves the interface via netlink (joining
// the configured namespace first if one was given), and begins the
// receive and address-mapping-aging loops.
func (p *Port) Start(owner port.Inbounder) error {
	restore, err := p.enterNamespace()
	if err != nil {
		return err
	}
	defer restore()

	link, err := netlink.LinkByName(p.ifaceName)
	if err != nil {
		return fmt.Errorf("ethertap: link %q: %w", p.ifaceName, err)
	}
	attrs := link.Attrs()
	copy(p.hwAddr[:], attrs.HardwareAddr)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(uint16(unix.ETH_P_ALL))))
	if err != nil {
		return fmt.Errorf("ethertap: socket: %w", err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(uint16(unix.ETH_P_ALL)),
		Ifindex:  attrs.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ethertap: bind to %s: %w", p.ifaceName, err)
	}

	p.mu.Lock()
	p.fd = fd
	p.ifindex = attrs.Index
	p.owner = owner
	p.started = true
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.mu.Unlock()

	go p.readLoop()
	go p.ageLoop()
	return nil
}

func (p *Port) enterNamespace() (restore func(), err error) {
	if p.netnsName == "" {
		return func() {}, nil
	}
	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("ethertap: get current namespace: %w", err)
	}
	target, err := netns.GetFromName(p.netnsName)
	if err != nil {
		origin.Close()
		return nil, fmt.Errorf("ethertap: namespace %q: %w", p.netnsName, err)
	}
	if err := netns.Set(target); err != nil {
		origin.Close()
		target.Close()
		return nil, fmt.Errorf("ethertap: enter namespace %q: %w", p.netnsName, err)
	}
	return func() {
		_ = netns.Set(origin)
		origin.Close()
		target.Close()
	}, nil
}

func htons(v uint16) uint16 {
	return v<<8&0xFF00 | v>>8&0x00FF
}

// Stop is idempotent.
func (p *Port) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	fd, stopCh, stoppedCh := p.fd, p.stopCh, p.stoppedCh
	p.mu.Unlock()

	close(stopCh)
	<-stoppedCh
	return unix.Close(fd)
}

func (p *Port) sendFrame(dest [6]byte, payload []byte) {
	p.mu.Lock()
	fd, ifindex, started := p.fd, p.ifindex, p.started
	p.mu.Unlock()
	if !started {
		return
	}
	if len(payload) < 46 {
		padded := make([]byte, 46)
		copy(padded, payload)
		payload = padded
	}
	frame := make([]byte, 0, 14+len(payload))
	frame = append(frame, dest[:]...)
	frame = append(frame, p.hwAddr[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, payload...)

	addr := &unix.SockaddrLinklayer{Ifindex: ifindex, Halen: 6}
	copy(addr.Addr[:6], dest[:])
	_ = unix.Sendto(fd, frame, 0, addr)
}

func (p *Port) sendDatagram(dest [6]byte, d ddp.Datagram) {
	body, err := d.EncodeLongHeader()
	if err != nil {
		return
	}
	payload := make([]byte, 0, 8+len(body))
	payload = append(payload, ieee8022Type1Header[:]...)
	payload = append(payload, snapHeaderAppleTalk[:]...)
	payload = append(payload, body...)
	p.sendFrame(dest, payload)
}

// Unicast sends to the mapped hardware address if known; otherwise the
// datagram is dropped. Mappings come from received datagrams with hop
// count 0 and from SeedAddressMapping; this driver does not resolve
// addresses through AARP.
func (p *Port) Unicast(network uint16, node uint8, d ddp.Datagram) error {
	p.amtMu.Lock()
	m, ok := p.amt[[2]uint16{network, uint16(node)}]
	p.amtMu.Unlock()
	if !ok {
		return nil
	}
	p.sendDatagram(m.hw, d)
	return nil
}

// Broadcast rewrites the destination to (0,0xFF) if needed and sends to
// the ELAP broadcast address.
func (p *Port) Broadcast(d ddp.Datagram) error {
	if d.DestinationNetwork != 0 || d.DestinationNode != 0xFF {
		d = d.Copy(ddp.WithDestinationNetwork(0), ddp.WithDestinationNode(0xFF))
	}
	p.sendDatagram(elapBroadcastAddr, d)
	return nil
}

// Multicast sends to the ELAP multicast address derived from the zone
// name's checksum.
func (p *Port) Multicast(zoneName string, d ddp.Datagram) error {
	p.sendDatagram(multicastAddress(zoneName), d)
	return nil
}

// MulticastAddress reports the ELAP multicast address ZIP GetNetInfo
// advertises for zoneName.
func (p *Port) MulticastAddress(zoneName string) []byte {
	addr := multicastAddress(zoneName)
	return addr[:]
}

// SeedAddressMapping records a (network, node) -> hardware address mapping
// directly, bypassing AARP resolution. Exposed for tests and for static
// configuration of peers whose hardware address is already known.
func (p *Port) SeedAddressMapping(network uint16, node uint8, hw [6]byte) {
	p.amtMu.Lock()
	defer p.amtMu.Unlock()
	p.amt[[2]uint16{network, uint16(node)}] = mapping{hw: hw, lastUsed: time.Now()}
}

func (p *Port) readLoop() {
	defer close(p.stoppedCh)
	buf := make([]byte, 65535)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		n, _, err := unix.Recvfrom(p.fd, buf, 0)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		p.handleFrame(buf[:n])
	}
}

func (p *Port) handleFrame(frame []byte) {
	if len(frame) < 22 {
		return
	}
	if [3]byte{frame[14], frame[15], frame[16]} != ieee8022Type1Header {
		return
	}
	length := int(binary.BigEndian.Uint16(frame[12:14]))
	if length > len(frame)-14 {
		return
	}
	if [5]byte{frame[17], frame[18], frame[19], frame[20], frame[21]} != snapHeaderAppleTalk {
		return
	}
	end := 14 + length
	if end > len(frame) {
		end = len(frame)
	}
	d, err := ddp.DecodeLongHeader(frame[22:end])
	if err != nil {
		return
	}
	if d.HopCount == 0 {
		var hw [6]byte
		copy(hw[:], frame[6:12])
		p.SeedAddressMapping(d.SourceNetwork, d.SourceNode, hw)
	}

	var destArr [6]byte
	copy(destArr[:], frame[0:6])
	isForUs := destArr == p.hwAddr
	isBroadcast := destArr == elapBroadcastAddr
	isMulticast := destArr[0] == elapMulticastPrefix[0] && destArr[1] == elapMulticastPrefix[1] &&
		destArr[2] == elapMulticastPrefix[2] && destArr[3] == elapMulticastPrefix[3] && destArr[4] == elapMulticastPrefix[4] &&
		int(destArr[5]) <= elapMulticastAddrMax
	if isForUs || isBroadcast || isMulticast {
		if p.owner != nil {
			p.owner.Inbound(d, p)
		}
	}
}

func (p *Port) ageLoop() {
	ticker := time.NewTicker(agingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.amtMu.Lock()
			now := time.Now()
			for k, m := range p.amt {
				if now.Sub(m.lastUsed) >= addressMappingMaxAge {
					delete(p.amt, k)
				}
			}
			p.amtMu.Unlock()
		}
	}
}

var _ port.Port = (*Port)(nil)
