// Package postoffice builds reliable, per-mailbox, in-order segmented
// delivery on top of the lossy network, per spec.md §4.4.
package postoffice

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/PapiCZ/nachosgo/network"
)

const (
	ListenBox       = 0
	NumBoxes        = 32
	MaxReemissions  = 50
	Tempo           = 100 * time.Millisecond
	DisconnectTempo = 50 * time.Millisecond

	// ConnReminderTTL bounds how long a duplicate-CONN suppression entry
	// survives once nothing has refreshed it, per the Open Questions
	// decision on unbounded connSet growth.
	ConnReminderTTL = 30 * time.Second
)

type NetworkFailure struct{}

func (NetworkFailure) Error() string { return "send exhausted retransmissions" }

type mailBox struct {
	used bool

	// ack_lock-guarded fields.
	ackLock sync.Mutex
	ackCond *sync.Cond
	ackID   int32

	// receiver-side fields, protected by their own mutex (distinct from
	// ack_lock, since delivery and acknowledgement are independent paths
	// per spec.md §4.4).
	recvMu     sync.Mutex
	waitedID   int32
	nextSendID int32
	segments   chan []byte
	drained    bool

	// leftover holds bytes pulled out of a segment by ReceivePayload but
	// not consumed by that call, because a single reliable Send packed
	// more than one logical message into one segment stream (e.g. ftp's
	// header+payload sends). The next ReceivePayload call drains this
	// before touching the segments channel, so callers can Receive in
	// as many separate chunks as they like regardless of how the sender
	// happened to batch them into segments.
	leftover []byte
}

func newMailBox() *mailBox {
	b := &mailBox{segments: make(chan []byte, 256)}
	b.ackCond = sync.NewCond(&b.ackLock)
	b.ackID = -1
	return b
}

type connKey struct {
	netFrom, netTo, mailFrom, mailTo int32
}

type connReminder struct {
	timestamp int64
	seenAt    time.Time
}

// PostOffice is the per-machine post office: one LossyNetwork handle,
// a static mailbox array, a global send_lock serializing outbound
// transmission, and the duplicate-CONN suppression set of §4.4.
type PostOffice struct {
	addr int32
	net  network.Network

	boxMu sync.Mutex
	boxes [NumBoxes]*mailBox

	sendLock sync.Mutex

	connMu  sync.Mutex
	connSet map[connKey]connReminder

	stop chan struct{}
}

func New(addr int32, net network.Network) *PostOffice {
	po := &PostOffice{
		addr:    addr,
		net:     net,
		connSet: make(map[connKey]connReminder),
		stop:    make(chan struct{}),
	}
	po.boxes[ListenBox] = newMailBox()
	po.boxes[ListenBox].used = true

	go po.postalDelivery()
	go po.tempoTimer()
	return po
}

func (po *PostOffice) Close() {
	close(po.stop)
}

func (po *PostOffice) Addr() int32 { return po.addr }

type OutOfBoxes struct{}

func (OutOfBoxes) Error() string { return "no free mailboxes" }

// AllocBox claims a free mailbox outside the reserved listen box, per
// Connect's/Listen's "allocate a fresh mailbox" step.
func (po *PostOffice) AllocBox() (int32, error) {
	po.boxMu.Lock()
	defer po.boxMu.Unlock()
	for i := int32(1); i < NumBoxes; i++ {
		if po.boxes[i] == nil {
			po.boxes[i] = newMailBox()
			po.boxes[i].used = true
			return i, nil
		}
	}
	return -1, OutOfBoxes{}
}

func (po *PostOffice) box(i int32) *mailBox {
	po.boxMu.Lock()
	defer po.boxMu.Unlock()
	if i < 0 || i >= NumBoxes {
		return nil
	}
	return po.boxes[i]
}

// FreeBox implements Disconnect's box-draining rule: mark drained,
// wait one DisconnectTempo plus a further drain pass to catch late
// retransmits, reset waited_id, then release the slot.
func (po *PostOffice) FreeBox(i int32) {
	b := po.box(i)
	if b == nil || i == ListenBox {
		return
	}

	b.recvMu.Lock()
	b.drained = true
	b.recvMu.Unlock()

	time.Sleep(DisconnectTempo)
	drain(b)
	time.Sleep(DisconnectTempo)
	drain(b)

	b.recvMu.Lock()
	b.waitedID = 0
	b.drained = false
	b.leftover = nil
	b.recvMu.Unlock()

	po.boxMu.Lock()
	po.boxes[i] = nil
	po.boxMu.Unlock()
}

func drain(b *mailBox) {
	for {
		select {
		case <-b.segments:
		default:
			return
		}
	}
}

// SendPayload implements the sender state machine of spec.md §4.4:
// split into MaxSegmentSize segments, for each acquire ack_lock then
// send_lock, submit, wait for the ack broadcast, and verify message_id
// before advancing; bounded by MaxReemissions per segment.
func (po *PostOffice) SendPayload(selfBox int32, destMachine int32, destBox int32, data []byte) error {
	box := po.box(selfBox)
	if box == nil {
		return OutOfBoxes{}
	}

	segs := segment(data)
	for _, seg := range segs {
		box.recvMu.Lock()
		messageID := box.nextSendID
		box.recvMu.Unlock()

		ok := false
		for attempt := 0; attempt < MaxReemissions && !ok; attempt++ {
			box.ackLock.Lock()

			po.sendLock.Lock()
			mail := network.MailHeader{To: destBox, From: selfBox, Length: int32(len(seg)), Type: network.MailDATA, MessageID: messageID}
			po.net.Send(network.BuildPacket(po.addr, destMachine, mail, seg))
			po.sendLock.Unlock()

			box.ackCond.Wait()
			ok = box.ackID == messageID
			box.ackLock.Unlock()
		}
		if !ok {
			return NetworkFailure{}
		}

		box.recvMu.Lock()
		box.nextSendID++
		box.recvMu.Unlock()
	}
	return nil
}

// ReceivePayload pulls nb_segments segments from box in order and
// concatenates them, per spec.md §4.4's ReceivePayload(box). The caller
// must already know the total length (carried by the higher-level
// protocol, e.g. an FTP file_size or migration num_pages).
func (po *PostOffice) ReceivePayload(selfBox int32, totalLen int) []byte {
	box := po.box(selfBox)
	if box == nil {
		return nil
	}

	out := make([]byte, 0, totalLen)

	box.recvMu.Lock()
	if len(box.leftover) > 0 {
		n := len(box.leftover)
		if n > totalLen {
			n = totalLen
		}
		out = append(out, box.leftover[:n]...)
		box.leftover = box.leftover[n:]
	}
	box.recvMu.Unlock()

	for len(out) < totalLen {
		seg := <-box.segments
		need := totalLen - len(out)
		if len(seg) > need {
			box.recvMu.Lock()
			box.leftover = append(box.leftover, seg[need:]...)
			box.recvMu.Unlock()
			seg = seg[:need]
		}
		out = append(out, seg...)
	}
	return out
}

// SendConn sends the CONN payload (a wall-clock timestamp) used to open
// a connection, per spec.md §4.5 step 2.
func (po *PostOffice) SendConn(selfBox int32, destMachine int32, timestamp int64) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(timestamp))
	mail := network.MailHeader{To: ListenBox, From: selfBox, Length: int32(len(payload)), Type: network.MailCONN, MessageID: 0}
	po.net.Send(network.BuildPacket(po.addr, destMachine, mail, payload))
}

// ReceiveRaw blocks for exactly one raw segment from box, used for the
// CONN announcement and the one-byte acceptance reply of package conn.
func (po *PostOffice) ReceiveRaw(selfBox int32) []byte {
	box := po.box(selfBox)
	if box == nil {
		return nil
	}
	return <-box.segments
}

// rawMessageID marks a DATA packet as an unsequenced, one-shot
// datagram (the connection-acceptance handshake) rather than part of
// a box's ordered reliable stream: postalDelivery delivers it straight
// to the segments channel without touching waited_id, so it can never
// collide with message_id 0 of the connection's real payload traffic.
const rawMessageID = -1

// SendRaw sends a single unsegmented payload with a DATA header
// carrying rawMessageID; used by the connection layer's one-shot
// acceptance reply, which does not need the full SendPayload retry
// state machine and must not consume a waited_id slot.
func (po *PostOffice) SendRaw(selfBox, destMachine, destBox int32, payload []byte) {
	mail := network.MailHeader{To: destBox, From: selfBox, Length: int32(len(payload)), Type: network.MailDATA, MessageID: rawMessageID}
	po.net.Send(network.BuildPacket(po.addr, destMachine, mail, payload))
}

func segment(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for i := 0; i < len(data); i += network.MaxSegmentSize {
		end := i + network.MaxSegmentSize
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

// postalDelivery is the single receiver thread per PostOffice, per
// spec.md §4.4's PostalDelivery: block on the network, dispatch by
// MailHeader.Type, and ACK every non-ACK receive.
func (po *PostOffice) postalDelivery() {
	for {
		select {
		case <-po.stop:
			return
		default:
		}

		pkt := po.net.Receive()
		mail, payload := network.ParsePacket(pkt)
		if mail.To < 0 || mail.To >= NumBoxes {
			continue
		}

		switch mail.Type {
		case network.MailCONN:
			if mail.To != ListenBox {
				continue
			}
			if len(payload) < 8 {
				continue
			}
			ts := int64(binary.LittleEndian.Uint64(payload))
			key := connKey{netFrom: pkt.Header.From, netTo: pkt.Header.To, mailFrom: mail.From, mailTo: mail.To}
			now := time.Now()

			po.connMu.Lock()
			for k, r := range po.connSet {
				if now.Sub(r.seenAt) > ConnReminderTTL {
					delete(po.connSet, k)
				}
			}
			existing, dup := po.connSet[key]
			if dup && existing.timestamp >= ts && now.Sub(existing.seenAt) <= ConnReminderTTL {
				po.connMu.Unlock()
				continue
			}
			po.connSet[key] = connReminder{timestamp: ts, seenAt: now}
			po.connMu.Unlock()

			announce := make([]byte, 8)
			binary.LittleEndian.PutUint32(announce[0:4], uint32(pkt.Header.From))
			binary.LittleEndian.PutUint32(announce[4:8], uint32(mail.From))

			box := po.box(ListenBox)
			select {
			case box.segments <- announce:
			default:
			}
		case network.MailDATA:
			box := po.box(mail.To)
			if box == nil {
				continue
			}
			if mail.MessageID == rawMessageID {
				box.segments <- append([]byte(nil), payload...)
				po.ack(mail, pkt.Header.From)
				continue
			}
			box.recvMu.Lock()
			if box.drained {
				box.recvMu.Unlock()
				po.ack(mail, pkt.Header.From)
				continue
			}
			if mail.MessageID == box.waitedID {
				box.waitedID++
				box.recvMu.Unlock()
				box.segments <- append([]byte(nil), payload...)
			} else {
				box.recvMu.Unlock()
			}
			po.ack(mail, pkt.Header.From)
		case network.MailACK:
			box := po.box(mail.To)
			if box == nil {
				continue
			}
			box.ackLock.Lock()
			box.ackID = mail.MessageID
			box.ackCond.Broadcast()
			box.ackLock.Unlock()
		case network.MailFIN:
			// Reserved for future teardown signalling; no payload to
			// dispatch today, so just drop per the "otherwise: drop" rule.
		}
	}
}

func (po *PostOffice) ack(mail network.MailHeader, netFrom int32) {
	reply := network.MailHeader{To: mail.From, From: mail.To, Length: 0, Type: network.MailACK, MessageID: mail.MessageID}
	po.net.Send(network.BuildPacket(po.addr, netFrom, reply, nil))
}

// tempoTimer is the periodic safety net of spec.md §4.4: broadcast
// ack_cond on every mailbox so stalled senders re-check and retransmit.
func (po *PostOffice) tempoTimer() {
	ticker := time.NewTicker(Tempo)
	defer ticker.Stop()
	for {
		select {
		case <-po.stop:
			return
		case <-ticker.C:
			po.boxMu.Lock()
			boxes := po.boxes
			po.boxMu.Unlock()
			for _, b := range boxes {
				if b == nil {
					continue
				}
				b.ackLock.Lock()
				b.ackCond.Broadcast()
				b.ackLock.Unlock()
			}
		}
	}
}
