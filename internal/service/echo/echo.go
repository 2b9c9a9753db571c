// Package echo implements the trivial AEP echo service described in
// spec.md §4.8: socket 4, DDP type 4, reply code 0x02 for every request
// code 0x01 received, with the rest of the body echoed back unchanged.
package echo

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/logger"
	"github.com/wesleywu/atalk-router/internal/port"
)

// Socket is the DDP socket AEP listens on.
const Socket uint8 = 4

// DDPType is the DDP type AEP datagrams carry.
const DDPType uint8 = 4

const (
	requestCode = 0x01
	replyCode   = 0x02
)

// Replier is the subset of *router.Router this service needs: just
// enough to send a reply to an inbound datagram.
type Replier interface {
	Reply(d ddp.Datagram, rxPort port.Port, ddpType uint8, data []byte) error
}

// Service answers AEP echo requests. It has no state and no background
// goroutine; Deliver runs synchronously on the Port's receive goroutine,
// same as the original's tiny aep.py handler.
type Service struct {
	router Replier
	log    *logger.Logger
}

// New returns an echo Service that replies through router.
func New(router Replier, log *logger.Logger) *Service {
	return &Service{router: router, log: log.WithComponent("echo")}
}

// Deliver implements router.Deliverer. Anything other than a well-formed
// echo request (non-empty body, first byte 0x01) is silently dropped per
// spec.md §7.
func (s *Service) Deliver(d ddp.Datagram, rxPort port.Port) {
	if len(d.Data) == 0 || d.Data[0] != requestCode {
		return
	}
	reply := make([]byte, len(d.Data))
	copy(reply, d.Data)
	reply[0] = replyCode
	if err := s.router.Reply(d, rxPort, DDPType, reply); err != nil {
		s.log.Debug("echo reply failed", "error", err)
	}
}
