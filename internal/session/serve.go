package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DefaultPrompt is printed before each line when ServeOptions.Prompt is empty.
const DefaultPrompt = "% "

// interruptChar is what a terminal sends for Ctrl-C.
const interruptChar = '\x03'

// LineReader reads one input line at a time. io.EOF ends the session.
type LineReader interface {
	ReadLine() (string, error)
}

// ServeOptions configures an interactive session loop.
type ServeOptions struct {
	Prompt string
	Banner string

	// ExternalPrompt is set when the line reader draws its own prompt,
	// as a line-editing terminal does.
	ExternalPrompt bool
}

// Serve runs the read-eval loop for s until the user types exit or logout,
// the input ends, or ctx is done.
//
// Lines typed while a command runs are queued and run afterwards, except a
// line carrying Ctrl-C, which interrupts the running command and drops the
// queue. Losing the input interrupts the running command.
func (d *Dispatcher) Serve(ctx context.Context, s *Session, in LineReader, out io.Writer, opts ServeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prompt := opts.Prompt
	switch {
	case opts.ExternalPrompt:
		prompt = ""
	case prompt == "":
		prompt = DefaultPrompt
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := in.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	if opts.Banner != "" {
		fmt.Fprintln(out, opts.Banner)
	}

	var pending []string
	for {
		var line string
		if len(pending) > 0 {
			line, pending = pending[0], pending[1:]
		} else {
			if prompt != "" {
				fmt.Fprint(out, prompt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-readErr:
				return endOfInput(err)
			case line = <-lines:
			}
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.ContainsRune(line, interruptChar) {
			continue
		}
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "exit", "logout":
			return nil
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			lw := &lineWriter{out: out}
			defer lw.Flush()
			if _, err := d.Exec(ctx, s, line, nil, lw, lw); err != nil {
				d.log.Debug().Err(err).Str("session", s.ID()).Msg("line abandoned")
			}
		}()

	running:
		for {
			select {
			case <-done:
				break running
			case l := <-lines:
				if strings.ContainsRune(l, interruptChar) {
					s.Interrupt()
					pending = nil
					continue
				}
				pending = append(pending, l)
			case err := <-readErr:
				s.Interrupt()
				<-done
				return endOfInput(err)
			case <-ctx.Done():
				<-done
				return ctx.Err()
			}
		}
	}
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// lineWriter holds command output until a line is complete, so each line
// reaches out in one Write. A line-editing terminal redraws its prompt
// after every Write.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	i := bytes.LastIndexByte(w.buf, '\n')
	if i < 0 {
		return len(p), nil
	}
	_, err := w.out.Write(w.buf[:i+1])
	w.buf = append(w.buf[:0], w.buf[i+1:]...)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes a trailing partial line.
func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.out.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}
