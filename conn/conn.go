// Package conn implements the Connect/Listen/Disconnect connection
// layer of spec.md §4.5, built on top of package postoffice.
package conn

import (
	"encoding/binary"

	"github.com/PapiCZ/nachosgo/postoffice"
)

// Connection identifies one endpoint of an established link: the
// caller's own private box, and the peer's machine address and box.
type Connection struct {
	po       *postoffice.PostOffice
	Box      int32
	PeerAddr int32
	PeerBox  int32
}

type SelfConnect struct{}

func (SelfConnect) Error() string { return "refusing to connect to self" }

// Clock supplies the CONN announcement timestamp; tests pass a fixed
// function, production code uses wall-clock time (see kernel wiring).
type Clock func() int64

// Connect implements spec.md §4.5's Connect(addr): allocate a box,
// announce via CONN carrying a timestamp, then block for the peer's
// one-byte acceptance. That byte is the peer's chosen box number; the
// acceptance's mail_from header field is not consulted.
func Connect(po *postoffice.PostOffice, destAddr int32, now Clock) (*Connection, error) {
	if destAddr == po.Addr() {
		return nil, SelfConnect{}
	}

	box, err := po.AllocBox()
	if err != nil {
		return nil, err
	}

	po.SendConn(box, destAddr, now())

	accept := po.ReceiveRaw(box)
	peerBox := parsePeerBox(accept)

	return &Connection{po: po, Box: box, PeerAddr: destAddr, PeerBox: peerBox}, nil
}

// Listen implements spec.md §4.5's Listen(): allocate a box, block on
// the listen box for an incoming CONN announcement (caller machine
// address + caller box, recovered by the postoffice layer from the
// delivering packet), then reply to the caller with a one-byte payload
// holding the newly allocated box number (not a "C" character).
func Listen(po *postoffice.PostOffice) (*Connection, error) {
	box, err := po.AllocBox()
	if err != nil {
		return nil, err
	}

	announce := po.ReceiveRaw(postoffice.ListenBox)
	callerAddr := int32(binary.LittleEndian.Uint32(announce[0:4]))
	callerBox := int32(binary.LittleEndian.Uint32(announce[4:8]))

	po.SendRaw(box, callerAddr, callerBox, []byte{byte(box)})

	return &Connection{po: po, Box: box, PeerAddr: callerAddr, PeerBox: callerBox}, nil
}

func parsePeerBox(payload []byte) int32 {
	if len(payload) == 0 {
		return -1
	}
	return int32(payload[0])
}

// Send transmits data reliably over the connection via SendPayload.
func (c *Connection) Send(data []byte) error {
	return c.po.SendPayload(c.Box, c.PeerAddr, c.PeerBox, data)
}

// Receive pulls exactly totalLen bytes via ReceivePayload.
func (c *Connection) Receive(totalLen int) []byte {
	return c.po.ReceivePayload(c.Box, totalLen)
}

// Disconnect drains and frees the connection's box, per spec.md §4.5.
func (c *Connection) Disconnect() {
	c.po.FreeBox(c.Box)
}

// Disconnect is the package-level form for callers holding only a
// PostOffice reference alongside the Connection.
func Disconnect(po *postoffice.PostOffice, c *Connection) {
	po.FreeBox(c.Box)
}
