package transport

import (
	"context"
	"net"

	"github.com/ziutek/telnet"

	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/pkg/types"
)

// TelnetListener serves line-mode telnet sessions.
type TelnetListener struct {
	*streamServer
	d    *session.Dispatcher
	opts session.ServeOptions
}

// NewTelnet creates an unbound telnet listener.
func NewTelnet(cfg types.ListenerConfig, d *session.Dispatcher) *TelnetListener {
	t := &TelnetListener{
		d:    d,
		opts: session.ServeOptions{Prompt: cfg.Prompt, Banner: cfg.Banner},
	}
	t.streamServer = newStreamServer(cfg.ListenerName(), TypeTelnet, cfg.Address, t.serveConn)
	return t
}

func (t *TelnetListener) serveConn(ctx context.Context, conn net.Conn) {
	tc, err := telnet.NewConn(conn)
	if err != nil {
		t.log.Debug().Err(err).Msg("telnet handshake failed")
		return
	}
	// Command output uses bare newlines; the terminal wants CRLF.
	tc.SetUnixWriteMode(true)

	s := t.d.Open(t.name)
	defer t.d.Close(s)
	s.Put("remote", conn.RemoteAddr().String())

	in := newLineReader(&interruptReader{r: tc, onInterrupt: func() { s.Interrupt() }})
	if err := t.d.Serve(ctx, s, in, tc, t.opts); err != nil && ctx.Err() == nil {
		t.log.Debug().Err(err).Str("session", s.ID()).Msg("telnet session ended")
	}
}
