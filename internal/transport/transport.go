package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/pkg/types"
)

// Listener types.
const (
	TypeTelnet    = "telnet"
	TypeSSH       = "ssh"
	TypeHTTP      = "http"
	TypeWebSocket = "websocket"
)

var (
	// ErrUnknownType is returned by New for an unsupported listener type.
	ErrUnknownType = errors.New("unknown listener type")
	// ErrAlreadyBound is returned by Bind on a bound listener.
	ErrAlreadyBound = errors.New("listener already bound")
)

// BindRetryTimeout bounds how long Bind keeps retrying an address in use.
var BindRetryTimeout = 2 * time.Second

// Listener accepts connections for one protocol. Unbind is idempotent and
// waits for open connections to finish, bounded by ctx.
type Listener interface {
	Name() string
	Type() string
	Bind(ctx context.Context) error
	Unbind(ctx context.Context) error
	// Addr is the bound address, or the configured one before Bind.
	Addr() string
}

// New creates an unbound listener from its configuration.
func New(cfg types.ListenerConfig, d *session.Dispatcher, bus *event.Bus) (Listener, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("listener %s: address required", cfg.ListenerName())
	}
	switch cfg.Type {
	case TypeTelnet:
		return NewTelnet(cfg, d), nil
	case TypeSSH:
		return NewSSH(cfg, d)
	case TypeHTTP:
		return NewHTTP(cfg, d, bus), nil
	case TypeWebSocket:
		return NewWebSocket(cfg, d), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// listen opens a TCP listener, retrying while the address is in use.
func listen(ctx context.Context, address string) (net.Listener, error) {
	var ln net.Listener
	op := func() error {
		var err error
		ln, err = net.Listen("tcp", address)
		if err != nil && !errors.Is(err, syscall.EADDRINUSE) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = BindRetryTimeout

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return ln, nil
}

// waitDone waits for done or ctx, whichever comes first.
func waitDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
