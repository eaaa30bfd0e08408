package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/pkg/types"
)

// SSHListener serves interactive shells and exec requests. Any client is
// accepted without authentication.
type SSHListener struct {
	*streamServer
	d      *session.Dispatcher
	config *ssh.ServerConfig
	opts   session.ServeOptions
	prompt string
}

// NewSSH creates an unbound SSH listener. The host key is read from
// cfg.HostKeyFile, or generated when that is empty.
func NewSSH(cfg types.ListenerConfig, d *session.Dispatcher) (*SSHListener, error) {
	signer, err := hostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", cfg.ListenerName(), err)
	}
	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = session.DefaultPrompt
	}
	l := &SSHListener{
		d:      d,
		config: config,
		opts:   session.ServeOptions{Banner: cfg.Banner, ExternalPrompt: true},
		prompt: prompt,
	}
	l.streamServer = newStreamServer(cfg.ListenerName(), TypeSSH, cfg.Address, l.serveConn)
	return l, nil
}

func hostKey(path string) (ssh.Signer, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return ssh.NewSignerFromKey(priv)
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	return signer, nil
}

func (l *SSHListener) serveConn(ctx context.Context, conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		l.log.Debug().Err(err).Msg("ssh handshake failed")
		return
	}
	defer sconn.Close()

	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			l.log.Debug().Err(err).Msg("ssh channel accept failed")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveChannel(ctx, sconn, ch, chReqs)
		}()
	}
	wg.Wait()
}

// serveChannel answers the session requests of one channel. A "shell"
// request starts the interactive loop, an "exec" request runs its command
// line once; either closes the channel with an exit-status when done.
func (l *SSHListener) serveChannel(ctx context.Context, sconn *ssh.ServerConn, ch ssh.Channel, reqs <-chan *ssh.Request) {
	started := false
	for req := range reqs {
		switch req.Type {
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		case "shell":
			if started {
				req.Reply(false, nil)
				continue
			}
			started = true
			req.Reply(true, nil)
			go l.shell(ctx, sconn, ch)
		case "exec":
			var payload struct{ Command string }
			if started || ssh.Unmarshal(req.Payload, &payload) != nil {
				req.Reply(false, nil)
				continue
			}
			started = true
			req.Reply(true, nil)
			go l.exec(ctx, sconn, ch, payload.Command)
		default:
			req.Reply(false, nil)
		}
	}
}

func (l *SSHListener) open(sconn *ssh.ServerConn) *session.Session {
	s := l.d.Open(l.name)
	s.Put("user", sconn.User())
	s.Put("remote", sconn.RemoteAddr().String())
	return s
}

func (l *SSHListener) shell(ctx context.Context, sconn *ssh.ServerConn, ch ssh.Channel) {
	s := l.open(sconn)
	defer l.d.Close(s)

	t := term.NewTerminal(newInterruptReadWriter(ch, func() { s.Interrupt() }), l.prompt)
	if err := l.d.Serve(ctx, s, t, t, l.opts); err != nil && ctx.Err() == nil {
		l.log.Debug().Err(err).Str("session", s.ID()).Msg("ssh session ended")
	}
	exit(ch, 0)
}

func (l *SSHListener) exec(ctx context.Context, sconn *ssh.ServerConn, ch ssh.Channel, line string) {
	s := l.open(sconn)
	defer l.d.Close(s)

	o, err := l.d.Exec(ctx, s, line, ch, ch, ch.Stderr())
	if err != nil {
		l.log.Debug().Err(err).Str("session", s.ID()).Msg("ssh exec abandoned")
	}
	exit(ch, o.ExitCode())
}

// exit reports the exit status to the client and closes the channel.
func exit(ch ssh.Channel, code int) {
	status := struct{ Status uint32 }{uint32(code)}
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
	ch.Close()
}
