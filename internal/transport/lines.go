package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// interruptReader removes Ctrl-C bytes from a raw terminal stream and
// reports each one, so an interrupt reaches the running command without
// waiting for the end of the line.
type interruptReader struct {
	r           io.Reader
	onInterrupt func()
}

func (ir *interruptReader) Read(p []byte) (int, error) {
	for {
		n, err := ir.r.Read(p)
		if n == 0 || bytes.IndexByte(p[:n], 0x03) < 0 {
			return n, err
		}
		kept := p[:0]
		for _, b := range p[:n] {
			if b == 0x03 {
				ir.onInterrupt()
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) > 0 || err != nil {
			return len(kept), err
		}
	}
}

// interruptReadWriter pairs an interruptReader with the original writer.
type interruptReadWriter struct {
	io.Reader
	io.Writer
}

func newInterruptReadWriter(rw io.ReadWriter, onInterrupt func()) io.ReadWriter {
	return &interruptReadWriter{
		Reader: &interruptReader{r: rw, onInterrupt: onInterrupt},
		Writer: rw,
	}
}

// lineReader splits a byte stream into lines, dropping CR and NUL padding
// that telnet clients add.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (l *lineReader) ReadLine() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n\x00"), nil
}
