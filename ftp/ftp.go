// Package ftp implements the FTP-style file-transfer protocol of
// spec.md §4.7 on top of package conn's reliable connections.
package ftp

import (
	"encoding/binary"

	"github.com/PapiCZ/nachosgo/conn"
)

// Message types, per spec.md §4.7's FTPHeader.
const (
	ReadFile   = 0
	WriteFile  = 1
	Connect    = 2
	Disconnect = 3
	OK         = 4
	Error      = 5
	FileData   = 6
)

const headerSize = 4 + 4 // Type, FileSize

type Header struct {
	Type     int32
	FileSize int32
}

func (h Header) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.FileSize))
	return buf
}

func unmarshalHeader(buf []byte) Header {
	return Header{
		Type:     int32(binary.LittleEndian.Uint32(buf[0:4])),
		FileSize: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}
}

// FS is the filesystem surface the server/client need; package kernel
// supplies the concrete implementation over *fs.FileSystem.
type FS interface {
	Stat(name string) (size int64, isDir bool, err error)
	Create(name string, size int64) error
	Open(name string) (fd int, err error)
	Read(fd int, buf []byte) (int, error)
	Write(fd int, buf []byte) (int, error)
	Close(fd int) error
	Remove(name string) error
}

func send(c *conn.Connection, h Header, payload []byte) bool {
	buf := append(h.marshal(), payload...)
	return c.Send(buf) == nil
}

func recvHeader(c *conn.Connection) Header {
	return unmarshalHeader(c.Receive(headerSize))
}

// ProtocolViolation is returned when a peer sends an unexpected message
// type, per spec.md §7's ProtocolViolation error kind.
type ProtocolViolation struct{ Got int32 }

func (e ProtocolViolation) Error() string { return "ftp: unexpected message type" }

// Reject notifies a client its machine address is already connected,
// per spec.md §4.7's server-loop duplicate-connection rule.
func Reject(c *conn.Connection) {
	send(c, Header{Type: Disconnect}, nil)
}

// ServeClient is the per-client handler forked by the server's main
// loop, per spec.md §4.7: notify OK, then serve requests until the
// client sends Disconnect.
func ServeClient(c *conn.Connection, filesystem FS) {
	defer c.Disconnect()

	if !send(c, Header{Type: OK}, nil) {
		return
	}

	for {
		req := recvHeader(c)
		switch req.Type {
		case ReadFile:
			serveReadFile(c, filesystem)
		case WriteFile:
			serveWriteFile(c, filesystem, req.FileSize)
		case Disconnect:
			send(c, Header{Type: Disconnect}, nil)
			return
		default:
			send(c, Header{Type: Error}, nil)
		}
	}
}

func readName(c *conn.Connection, nameLen int) string {
	return string(c.Receive(nameLen))
}

func serveReadFile(c *conn.Connection, filesystem FS) {
	nameHdr := recvHeader(c)
	name := readName(c, int(nameHdr.FileSize))

	size, isDir, err := filesystem.Stat(name)
	if err != nil || isDir {
		send(c, Header{Type: Error}, nil)
		return
	}

	fd, err := filesystem.Open(name)
	if err != nil {
		send(c, Header{Type: Error}, nil)
		return
	}
	defer filesystem.Close(fd)

	data := make([]byte, size)
	if _, err := filesystem.Read(fd, data); err != nil {
		send(c, Header{Type: Error}, nil)
		return
	}

	if !send(c, Header{Type: OK, FileSize: int32(size)}, nil) {
		return
	}
	if recvHeader(c).Type != OK {
		return
	}
	if !send(c, Header{Type: FileData, FileSize: int32(size)}, data) {
		return
	}
	if recvHeader(c).Type != OK {
		return
	}

	send(c, Header{Type: OK}, nil)
}

func serveWriteFile(c *conn.Connection, filesystem FS, size int32) {
	nameHdr := recvHeader(c)
	name := readName(c, int(nameHdr.FileSize))

	if err := filesystem.Create(name, int64(size)); err != nil {
		send(c, Header{Type: Error}, nil)
		return
	}
	fd, err := filesystem.Open(name)
	if err != nil {
		send(c, Header{Type: Error}, nil)
		return
	}

	if !send(c, Header{Type: OK}, nil) {
		filesystem.Close(fd)
		filesystem.Remove(name)
		return
	}
	if recvHeader(c).Type != OK {
		filesystem.Close(fd)
		filesystem.Remove(name)
		return
	}

	dataHdr := recvHeader(c)
	if dataHdr.Type != FileData {
		filesystem.Close(fd)
		filesystem.Remove(name)
		send(c, Header{Type: Error}, nil)
		return
	}
	data := c.Receive(int(dataHdr.FileSize))
	if _, err := filesystem.Write(fd, data); err != nil {
		filesystem.Close(fd)
		filesystem.Remove(name)
		send(c, Header{Type: Error}, nil)
		return
	}

	if !send(c, Header{Type: OK}, nil) {
		filesystem.Close(fd)
		return
	}
	recvHeader(c)
	filesystem.Close(fd)
}

// GetFile is the client half of READFILE: await the server's initial
// OK handshake, request, await OK with size, ack, receive FILEDATA,
// ack, and return the bytes.
func GetFile(c *conn.Connection, name string) ([]byte, error) {
	if recvHeader(c).Type != OK {
		return nil, ProtocolViolation{}
	}

	if !send(c, Header{Type: ReadFile}, nil) {
		return nil, ProtocolViolation{}
	}
	nameBytes := []byte(name)
	if !send(c, Header{Type: ReadFile, FileSize: int32(len(nameBytes))}, nameBytes) {
		return nil, ProtocolViolation{}
	}

	resp := recvHeader(c)
	if resp.Type != OK {
		disconnect(c)
		return nil, ProtocolViolation{Got: resp.Type}
	}
	send(c, Header{Type: OK}, nil)

	dataHdr := recvHeader(c)
	if dataHdr.Type != FileData {
		disconnect(c)
		return nil, ProtocolViolation{Got: dataHdr.Type}
	}
	data := c.Receive(int(dataHdr.FileSize))
	send(c, Header{Type: OK}, nil)

	final := recvHeader(c)
	if final.Type != OK {
		disconnect(c)
		return nil, ProtocolViolation{Got: final.Type}
	}

	disconnect(c)
	return data, nil
}

// SendFile is the client half of WRITEFILE.
func SendFile(c *conn.Connection, name string, data []byte) error {
	if recvHeader(c).Type != OK {
		return ProtocolViolation{}
	}

	if !send(c, Header{Type: WriteFile, FileSize: int32(len(data))}, nil) {
		return ProtocolViolation{}
	}
	nameBytes := []byte(name)
	if !send(c, Header{Type: WriteFile, FileSize: int32(len(nameBytes))}, nameBytes) {
		return ProtocolViolation{}
	}

	resp := recvHeader(c)
	if resp.Type != OK {
		disconnect(c)
		return ProtocolViolation{Got: resp.Type}
	}
	send(c, Header{Type: OK}, nil)

	if !send(c, Header{Type: FileData, FileSize: int32(len(data))}, data) {
		return ProtocolViolation{}
	}

	final := recvHeader(c)
	if final.Type != OK {
		disconnect(c)
		return ProtocolViolation{Got: final.Type}
	}
	send(c, Header{Type: OK}, nil)

	disconnect(c)
	return nil
}

// disconnect tells the server this client is done, per spec.md §4.7's
// DISCONNECT step: without it ServeClient's request loop blocks in
// recvHeader forever after a single transfer, leaving the peer's
// machine address marked connected and rejecting every later transfer
// from the same client.
func disconnect(c *conn.Connection) {
	if !send(c, Header{Type: Disconnect}, nil) {
		return
	}
	recvHeader(c)
}
