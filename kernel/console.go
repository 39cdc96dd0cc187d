package kernel

import (
	"bufio"
	"io"

	"github.com/PapiCZ/nachosgo/synch"
)

// SynchConsole is the concrete exception.Console: a single reader and
// writer serialized by one lock, grounded on original_source/userprog/
// synchconsole.cc's semThreads-guarded doSynchPutChar/doSynchGetChar
// pair, which lets PutString/GetString interleave characters atomically
// against concurrent single-char Put/Get calls from other threads.
type SynchConsole struct {
	mu  *synch.Lock
	in  *bufio.Reader
	out io.Writer
}

func NewSynchConsole(in io.Reader, out io.Writer) *SynchConsole {
	return &SynchConsole{mu: synch.NewLock(), in: bufio.NewReader(in), out: out}
}

func (c *SynchConsole) PutChar(b byte) {
	c.mu.Acquire()
	defer c.mu.Release()
	c.out.Write([]byte{b})
}

func (c *SynchConsole) GetChar() byte {
	c.mu.Acquire()
	defer c.mu.Release()
	b, err := c.in.ReadByte()
	if err != nil {
		return 0
	}
	return b
}

func (c *SynchConsole) PutString(s string) {
	c.mu.Acquire()
	defer c.mu.Release()
	io.WriteString(c.out, s)
}

// GetString reads up to n bytes, stopping early at a newline (included)
// or EOF, mirroring SynchGetString's doSynchGetChar loop.
func (c *SynchConsole) GetString(n int) string {
	c.mu.Acquire()
	defer c.mu.Release()
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := c.in.ReadByte()
		if err != nil {
			break
		}
		out = append(out, b)
		if b == '\n' {
			break
		}
	}
	return string(out)
}
