// Package network simulates the lossy, unordered, non-corrupting packet
// medium described in spec.md §4.4/§6: the post office builds reliable
// segmented delivery on top of it.
package network

import (
	"math/rand"
	"sync"
)

// Mail types, per spec.md §6's MailHeader.
const (
	MailACK  = 0
	MailDATA = 1
	MailCONN = 2
	MailFIN  = 3
)

const (
	MaxPacketSize  = 128
	mailHeaderSize = 4 * 5 // To, From, Length, Type, MessageID, all int32
	MaxSegmentSize = MaxPacketSize - mailHeaderSize
)

// PacketHeader is the wire-level envelope a Network moves; Body carries
// a marshaled MailHeader followed by payload bytes.
type PacketHeader struct {
	From, To, Length int32
}

type Packet struct {
	Header PacketHeader
	Body   []byte
}

// MailHeader is the post-office-level header embedded in a packet's
// body, per spec.md §6.
type MailHeader struct {
	To, From, Length int32
	Type             int32
	MessageID        int32
}

func (h MailHeader) marshal() []byte {
	buf := make([]byte, mailHeaderSize)
	putI32 := func(off int, v int32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putI32(0, h.To)
	putI32(4, h.From)
	putI32(8, h.Length)
	putI32(12, h.Type)
	putI32(16, h.MessageID)
	return buf
}

func unmarshalMailHeader(buf []byte) MailHeader {
	getI32 := func(off int) int32 {
		return int32(uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24)
	}
	return MailHeader{
		To:        getI32(0),
		From:      getI32(4),
		Length:    getI32(8),
		Type:      getI32(12),
		MessageID: getI32(16),
	}
}

// BuildPacket assembles the wire packet for one mail segment.
func BuildPacket(from, to int32, mail MailHeader, payload []byte) Packet {
	body := append(mail.marshal(), payload...)
	return Packet{
		Header: PacketHeader{From: from, To: to, Length: int32(len(body))},
		Body:   body,
	}
}

// ParsePacket splits a received packet back into its MailHeader and
// payload.
func ParsePacket(pkt Packet) (MailHeader, []byte) {
	mail := unmarshalMailHeader(pkt.Body)
	payload := pkt.Body[mailHeaderSize:]
	return mail, payload
}

// Network is the per-machine handle PostOffice talks to.
type Network interface {
	Send(pkt Packet)
	Receive() Packet
}

// Medium is the shared, addressed wire connecting every machine's
// LossyNetwork in a simulated run; it plays the role of the wire
// hardware the original's SynchDisk-style Network class wraps.
type Medium struct {
	mu    sync.Mutex
	boxes map[int32]chan Packet
}

func NewMedium() *Medium {
	return &Medium{boxes: make(map[int32]chan Packet)}
}

// Attach registers a new machine address on the medium with the given
// packet-drop reliability (1.0 == never drops) and returns its handle.
func (m *Medium) Attach(addr int32, reliability float64, seed int64) *LossyNetwork {
	m.mu.Lock()
	ch := make(chan Packet, 64)
	m.boxes[addr] = ch
	m.mu.Unlock()

	return &LossyNetwork{
		addr:        addr,
		medium:      m,
		reliability: reliability,
		rng:         rand.New(rand.NewSource(seed)),
		inbox:       ch,
	}
}

func (m *Medium) route(pkt Packet) {
	m.mu.Lock()
	ch, ok := m.boxes[pkt.Header.To]
	m.mu.Unlock()
	if ok {
		select {
		case ch <- pkt:
		default:
		}
	}
}

// LossyNetwork implements Network for one machine address: Send drops
// packets at rate (1-reliability) but never corrupts or reorders the
// ones it does deliver relative to each other per destination, since
// delivery on this medium is a single buffered channel per address.
type LossyNetwork struct {
	addr        int32
	medium      *Medium
	reliability float64
	mu          sync.Mutex
	rng         *rand.Rand
	inbox       chan Packet
}

// Send enqueues pkt for asynchronous delivery; the post office's
// SendPayload waits on the caller-observable completion by simply
// returning, since the medium never blocks the sender (stop-and-wait
// correctness relies on ACK timeouts, not send-side blocking).
func (n *LossyNetwork) Send(pkt Packet) {
	n.mu.Lock()
	drop := n.rng.Float64() >= n.reliability
	n.mu.Unlock()
	if drop {
		return
	}
	n.medium.route(pkt)
}

// Receive blocks until a packet addressed to this machine arrives; the
// channel itself plays the role of the original's messageAvailable
// semaphore.
func (n *LossyNetwork) Receive() Packet {
	return <-n.inbox
}
