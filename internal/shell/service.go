package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/filepack"
	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/internal/loop"
	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/internal/transport"
	"github.com/telnet2/shelld/pkg/types"
)

// Option configures a Service.
type Option func(*Service)

// WithBus publishes service events on bus instead of a bus the service owns.
// The caller closes it.
func WithBus(bus *event.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithFs sets the filesystem for the base commands, file packs and local
// maps. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

// WithPacks adds packs after the configured ones.
func WithPacks(packs ...command.Pack) Option {
	return func(s *Service) { s.extraPacks = append(s.extraPacks, packs...) }
}

// WithListeners adds listeners after the configured ones.
func WithListeners(listeners ...transport.Listener) Option {
	return func(s *Service) { s.extraListeners = append(s.extraListeners, listeners...) }
}

// WithWatchDebounce sets how long the file pack watcher waits for changes
// to settle before reloading.
func WithWatchDebounce(d time.Duration) Option {
	return func(s *Service) { s.debounce = d }
}

// Service is a shell service: a command manager fed by command packs and
// served by listeners.
type Service struct {
	cfg        *types.Config
	log        zerolog.Logger
	loop       *loop.Loop
	bus        *event.Bus
	ownBus     bool
	fs         afero.Fs
	manager    *command.Manager
	dispatcher *session.Dispatcher
	debounce   time.Duration

	extraPacks     []command.Pack
	extraListeners []transport.Listener
	packs          []command.Pack
	listeners      []transport.Listener

	mu       sync.Mutex
	state    State
	bound    []transport.Listener
	watchers []*filepack.Watcher
	closed   chan struct{}

	reloadMu sync.Mutex

	// owned maps a pack name to the commands it registered. Loop only.
	owned map[string][]*command.Command
}

// New creates a service from cfg. Packs and listeners are resolved here so
// configuration mistakes surface before Start.
func New(cfg *types.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &types.Config{}
	}
	s := &Service{
		cfg:      cfg,
		log:      logging.Component("shell"),
		fs:       afero.NewOsFs(),
		debounce: filepack.DefaultDebounce,
		closed:   make(chan struct{}),
		owned:    make(map[string][]*command.Command),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil {
			return nil, fmt.Errorf("invalid shutdownTimeout %q: %w", cfg.ShutdownTimeout, err)
		}
	}
	if s.bus == nil {
		s.bus = event.NewBus()
		s.ownBus = true
	}

	s.loop = loop.New("shell")
	s.manager = command.NewManager(s.loop, command.WithBus(s.bus))
	s.dispatcher = session.NewDispatcher(s.manager, s.bus)
	s.dispatcher.Hold()

	if err := s.resolve(); err != nil {
		s.loop.Stop()
		s.closeOwned()
		return nil, err
	}
	return s, nil
}

func (s *Service) resolve() error {
	for _, name := range s.cfg.Packs() {
		p, err := s.resolvePack(name)
		if err != nil {
			return err
		}
		s.packs = append(s.packs, p)
	}
	s.packs = append(s.packs, s.extraPacks...)

	for _, lc := range s.cfg.Listeners {
		l, err := transport.New(lc, s.dispatcher, s.bus)
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, l)
	}
	s.listeners = append(s.listeners, s.extraListeners...)
	return nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Manager returns the command manager.
func (s *Service) Manager() *command.Manager { return s.manager }

// Dispatcher returns the session dispatcher the listeners serve.
func (s *Service) Dispatcher() *session.Dispatcher { return s.dispatcher }

// Bus returns the event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Packs returns the packs in discovery order.
func (s *Service) Packs() []command.Pack {
	return append([]command.Pack(nil), s.packs...)
}

// Listeners returns the configured listeners, bound or not.
func (s *Service) Listeners() []transport.Listener {
	return append([]transport.Listener(nil), s.listeners...)
}

// Done is closed once the service reaches the closed state.
func (s *Service) Done() <-chan struct{} { return s.closed }

func (s *Service) transition(op string, from, to State) error {
	s.mu.Lock()
	if s.state != from {
		st := s.state
		s.mu.Unlock()
		return &IllegalStateError{Op: op, State: st}
	}
	s.state = to
	s.mu.Unlock()
	s.stateChanged(from, to)
	return nil
}

func (s *Service) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.stateChanged(from, to)
}

func (s *Service) stateChanged(from, to State) {
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("service state changed")
	s.bus.Publish(event.Event{
		Type: event.ServiceStateChanged,
		Data: event.StateChangedData{From: from.String(), To: to.String()},
	})
}

// StartAsync starts the service on a new goroutine. The channel receives
// the result of Start and is then closed.
func (s *Service) StartAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.Start(ctx)
	}()
	return ch
}

// Start discovers commands from every pack, registers them and binds the
// listeners. A failing pack is reported and skipped. A failing listener
// unbinds the others, unregisters everything and leaves the service closed.
func (s *Service) Start(ctx context.Context) error {
	if err := s.transition("start", Created, Starting); err != nil {
		return err
	}

	results := s.discover(ctx)
	if err := s.apply(ctx, results); err != nil {
		s.abort()
		return fmt.Errorf("register commands: %w", err)
	}

	for _, l := range s.listeners {
		if err := l.Bind(ctx); err != nil {
			s.log.Error().Err(err).Str("listener", l.Name()).Msg("bind failed")
			s.abort()
			return fmt.Errorf("bind %s: %w", l.Name(), err)
		}
		s.mu.Lock()
		s.bound = append(s.bound, l)
		s.mu.Unlock()
		s.log.Info().Str("listener", l.Name()).Str("type", l.Type()).Str("address", l.Addr()).Msg("listener bound")
		s.bus.Publish(event.Event{
			Type: event.ListenerBound,
			Data: event.ListenerData{Name: l.Name(), Type: l.Type(), Address: l.Addr()},
		})
	}

	if s.cfg.WatchEnabled() {
		s.startWatchers()
	}

	if err := s.transition("start", Starting, Running); err != nil {
		return err
	}
	s.dispatcher.Release(nil)
	s.log.Info().Int("commands", len(s.manager.Names())).Int("listeners", len(s.listeners)).Msg("shell service running")
	return nil
}

type packResult struct {
	pack command.Pack
	cmds []*command.Command
	err  error
}

// discover queries every pack on its own goroutine and returns the results
// in pack order.
func (s *Service) discover(ctx context.Context) []packResult {
	results := make([]packResult, len(s.packs))
	var g errgroup.Group
	for i, p := range s.packs {
		i, p := i, p
		g.Go(func() error {
			cmds, err := command.LookupSync(ctx, p)
			results[i] = packResult{pack: p, cmds: cmds, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// apply registers the discovered commands on the loop and waits until every
// registration has been decided.
func (s *Service) apply(ctx context.Context, results []packResult) error {
	done := make(chan struct{})
	err := s.loop.Post(func() {
		// AddCommand tasks queued below run before the barrier.
		defer s.barrier(done)
		claimed := make(map[string]string)
		for _, r := range results {
			if r.err != nil {
				s.packFailed(r.pack, r.err)
				continue
			}
			s.register(r.pack.Name(), r.cmds, claimed)
		}
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// barrier closes ch once the tasks queued so far have run, or at once if
// the loop has stopped.
func (s *Service) barrier(ch chan struct{}) {
	if s.loop.Post(func() { close(ch) }) != nil {
		close(ch)
	}
}

// register queues cmds for registration under pack. A name already live or
// claimed earlier in the same batch is skipped. Loop only.
func (s *Service) register(pack string, cmds []*command.Command, claimed map[string]string) {
	for _, c := range cmds {
		c := c
		if c == nil {
			continue
		}
		name := c.Name()
		if owner, ok := claimed[name]; ok {
			s.duplicate(name, pack, owner)
			continue
		}
		if _, err := s.manager.Lookup(name); err == nil {
			s.duplicate(name, pack, "")
			continue
		}
		claimed[name] = pack
		s.manager.AddCommand(c, func(err error) {
			if err != nil {
				s.log.Warn().Err(err).Str("pack", pack).Str("command", name).Msg("command not registered")
				return
			}
			s.owned[pack] = append(s.owned[pack], c)
		})
	}
}

func (s *Service) duplicate(name, pack, owner string) {
	ev := s.log.Warn().Str("command", name).Str("pack", pack)
	if owner != "" {
		ev = ev.Str("registeredBy", owner)
	}
	ev.Msg("duplicate command name skipped")
}

func (s *Service) packFailed(p command.Pack, err error) {
	s.log.Error().Err(err).Str("pack", p.Name()).Msg("command pack failed")
	s.bus.Publish(event.Event{
		Type: event.PackFailed,
		Data: event.PackFailedData{Pack: p.Name(), Error: err.Error()},
	})
}

// abort rolls back a failed start.
func (s *Service) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown())
	defer cancel()

	_ = s.unbindAll(ctx)
	_ = s.loop.Do(ctx, func() {
		for pack, cmds := range s.owned {
			for _, c := range cmds {
				c.Unregister()
			}
			delete(s.owned, pack)
		}
	})
	s.finish(ctx)
}

// Reload queries every pack again. For each pack that answers, the commands
// it registered before are replaced by the fresh set; a failing pack keeps
// its old commands. Name clashes resolve in pack order, as on Start.
func (s *Service) Reload(ctx context.Context) error {
	if st := s.State(); st != Running {
		return &IllegalStateError{Op: "reload", State: st}
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	results := make([]packResult, len(s.packs))
	applied := make(chan struct{})
	var remaining atomic.Int32
	remaining.Store(int32(len(s.packs)))
	if len(s.packs) == 0 {
		close(applied)
	}
	for i, p := range s.packs {
		i, p := i, p
		command.Lookup(ctx, s.loop, p, func(cmds []*command.Command, err error) {
			results[i] = packResult{pack: p, cmds: cmds, err: err}
			if remaining.Add(-1) > 0 {
				return
			}
			defer s.barrier(applied)
			s.replace(results)
		})
	}

	select {
	case <-applied:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info().Int("commands", len(s.manager.Names())).Msg("commands reloaded")
	return nil
}

// replace swaps each answering pack's registered commands for its fresh
// set. Loop only.
func (s *Service) replace(results []packResult) {
	if s.loop.Stopped() {
		return
	}
	for _, r := range results {
		if r.err != nil {
			s.packFailed(r.pack, r.err)
			continue
		}
		for _, c := range s.owned[r.pack.Name()] {
			c.Unregister()
		}
		delete(s.owned, r.pack.Name())
	}
	claimed := make(map[string]string)
	for _, r := range results {
		if r.err == nil {
			s.register(r.pack.Name(), r.cmds, claimed)
		}
	}
}

func (s *Service) startWatchers() {
	for _, dir := range s.fileDirs() {
		w, err := filepack.NewWatcher(dir, s.debounce, func() {
			if err := s.Reload(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("reload after file change failed")
			}
		})
		if err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("cannot watch command directory")
			continue
		}
		w.Start()
		s.mu.Lock()
		s.watchers = append(s.watchers, w)
		s.mu.Unlock()
	}
}

func (s *Service) stopWatchers() {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()
	for _, w := range watchers {
		_ = w.Stop()
	}
}

// CloseAsync closes the service on a new goroutine. The channel receives
// the result of Close and is then closed.
func (s *Service) CloseAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.Close(ctx)
	}()
	return ch
}

// Close unbinds the listeners, cancels in-flight executions and waits for
// them up to the shutdown timeout, then closes the manager. Closing a
// service that never started moves it straight to closed. Closing while
// another Close runs waits for it.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	switch st {
	case Created:
		s.mu.Unlock()
		s.setState(Closed)
		s.finish(ctx)
		return nil
	case Running:
		s.state = Closing
		s.mu.Unlock()
	case Closing:
		s.mu.Unlock()
		select {
		case <-s.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		s.mu.Unlock()
		return &IllegalStateError{Op: "close", State: st}
	}
	s.stateChanged(Running, Closing)

	s.stopWatchers()
	err := s.unbindAll(ctx)
	for _, sess := range s.dispatcher.Sessions() {
		s.dispatcher.Close(sess)
	}

	if n := s.manager.CancelAll(); n > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Shutdown())
		if werr := s.manager.WaitIdle(waitCtx); werr != nil {
			s.log.Warn().Int("inflight", len(s.manager.Inflight())).Msg("executions still running at shutdown")
		}
		cancel()
	}

	s.setState(Closed)
	s.finish(ctx)
	return err
}

// unbindAll unbinds the bound listeners in reverse order.
func (s *Service) unbindAll(ctx context.Context) error {
	s.mu.Lock()
	bound := s.bound
	s.bound = nil
	s.mu.Unlock()

	var errs []error
	for i := len(bound) - 1; i >= 0; i-- {
		l := bound[i]
		if err := l.Unbind(ctx); err != nil {
			s.log.Warn().Err(err).Str("listener", l.Name()).Msg("unbind failed")
			errs = append(errs, fmt.Errorf("unbind %s: %w", l.Name(), err))
		}
		s.bus.Publish(event.Event{
			Type: event.ListenerUnbound,
			Data: event.ListenerData{Name: l.Name(), Type: l.Type(), Address: l.Addr()},
		})
	}
	return errors.Join(errs...)
}

// finish releases what the service owns and marks it closed.
func (s *Service) finish(ctx context.Context) {
	s.dispatcher.Release(session.ErrUnavailable)
	if err := s.manager.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("closing command manager")
	}
	s.loop.Stop()
	s.mu.Lock()
	if s.state != Closed {
		s.mu.Unlock()
		s.setState(Closed)
	} else {
		s.mu.Unlock()
	}
	s.closeOwned()
	close(s.closed)
}

func (s *Service) closeOwned() {
	if s.ownBus {
		_ = s.bus.Close()
	}
}
