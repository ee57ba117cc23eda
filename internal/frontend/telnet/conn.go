package telnet

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// Telnet command and option bytes (RFC 854, RFC 858).
const (
	IAC  byte = 255
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250
	SE   byte = 240

	OptSuppressGoAhead byte = 3
)

// MaxLineLength bounds a single input line. Bytes past the limit are
// discarded up to the next line terminator.
const MaxLineLength = 4096

// Conn wraps a TCP connection with Telnet handling for a chat terminal.
// Writes are serialized so that chat output arriving from other sessions
// can be interleaved with the prompt without corrupting it.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader

	mu     sync.Mutex
	prompt string

	closeOnce sync.Once
	closeErr  error

	readMu       sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be an open network connection.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Negotiate asks the client to suppress go-ahead. Echo stays with the
// client so that typed text is visible while chat output is redrawn.
func (c *Conn) Negotiate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write([]byte{IAC, WILL, OptSuppressGoAhead})
}

// ReadLine reads a single line of input without its terminator. Telnet
// command sequences and control characters other than tab are dropped.
//
// Postcondition: The returned line holds at most MaxLineLength bytes.
func (c *Conn) ReadLine() (string, error) {
	c.readMu.Lock()
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	c.readMu.Unlock()

	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return line.String(), err
		}

		switch {
		case b == IAC:
			if err := c.skipCommand(); err != nil {
				return line.String(), err
			}
		case b == '\n':
			return line.String(), nil
		case b == '\r':
			if next, err := c.reader.Peek(1); err == nil && (next[0] == '\n' || next[0] == 0) {
				_, _ = c.reader.ReadByte()
			}
			return line.String(), nil
		case b == 0x7f || b == '\b':
			if n := line.Len(); n > 0 {
				_, size := utf8.DecodeLastRune(line.Bytes())
				line.Truncate(n - size)
			}
		case b < 32 && b != '\t':
		case line.Len() < MaxLineLength:
			line.WriteByte(b)
		}
	}
}

// SetReadTimeout changes how long ReadLine waits for a line. Zero waits
// forever and clears any deadline already armed by a blocked ReadLine.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.readTimeout = d
	if d > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(d))
		return
	}
	_ = c.raw.SetReadDeadline(time.Time{})
}

// skipCommand consumes the remainder of a command after its IAC byte.
func (c *Conn) skipCommand() error {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case WILL, WONT, DO, DONT:
		_, err = c.reader.ReadByte()
		return err
	case SB:
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if b != IAC {
				continue
			}
			next, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if next == SE {
				return nil
			}
		}
	}
	return nil
}

// WriteLine sends text followed by \r\n.
//
// Precondition: text should not carry a trailing newline.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write([]byte(text + "\r\n"))
}

// SetPrompt records prompt as the line redrawn after asynchronous output
// and writes it.
func (c *Conn) SetPrompt(prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
	return c.write([]byte(prompt))
}

// Interrupt writes text on its own line ahead of the current prompt. The
// prompt line is cleared first and redrawn afterwards.
//
// Postcondition: The cursor is left after the redrawn prompt.
func (c *Conn) Interrupt(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write([]byte(ClearLine + text + "\r\n" + c.prompt))
}

// write performs a deadline-bounded write.
//
// Precondition: caller holds c.mu.
func (c *Conn) write(p []byte) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(p)
	return err
}

// Close closes the underlying connection. Later calls return the result of
// the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
