package shell_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/telnet2/shelld/internal/command"
	"github.com/telnet2/shelld/internal/event"
	"github.com/telnet2/shelld/internal/session"
	"github.com/telnet2/shelld/internal/shell"
	"github.com/telnet2/shelld/pkg/types"
)

var _ = Describe("Service", func() {
	var (
		ctx context.Context
		bus *event.Bus
		cfg *types.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = event.NewBus()
		DeferCleanup(bus.Close)
		cfg = &types.Config{CommandPacks: []string{}, ShutdownTimeout: "2s"}
	})

	newService := func(opts ...shell.Option) *shell.Service {
		opts = append([]shell.Option{shell.WithBus(bus), shell.WithFs(afero.NewMemMapFs())}, opts...)
		svc, err := shell.New(cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			if svc.State() == shell.Running {
				Expect(svc.Close(context.Background())).To(Succeed())
			}
		})
		return svc
	}

	run := func(svc *shell.Service, name string) string {
		var out bytes.Buffer
		o, err := svc.Manager().Execute(ctx, command.Request{Name: name, Stdout: &out})
		Expect(err).NotTo(HaveOccurred())
		Expect(o.Status).To(Equal(command.Succeeded))
		return out.String()
	}

	Describe("Start", func() {
		It("registers exactly the commands of every pack", func() {
			svc := newService(shell.WithPacks(
				namedPack("first", "help", "ls"),
				namedPack("second", "ps"),
			))
			Expect(svc.Start(ctx)).To(Succeed())

			Expect(svc.State()).To(Equal(shell.Running))
			for _, name := range []string{"help", "ls", "ps"} {
				_, err := svc.Manager().Lookup(name)
				Expect(err).NotTo(HaveOccurred(), name)
			}
			Expect(svc.Manager().Names()).To(Equal([]string{"help", "ls", "ps"}))
		})

		It("reports a failing pack once and starts with the others", func() {
			var failures atomic.Int32
			bus.Subscribe(event.PackFailed, func(e event.Event) {
				if e.Data.(event.PackFailedData).Pack == "broken" {
					failures.Add(1)
				}
			})

			svc := newService(shell.WithPacks(failingPack("broken"), namedPack("good", "a", "b")))
			Expect(svc.Start(ctx)).To(Succeed())

			Expect(svc.State()).To(Equal(shell.Running))
			Expect(svc.Manager().Names()).To(ConsistOf("a", "b"))
			Eventually(failures.Load).Should(BeEquivalentTo(1))
			Consistently(failures.Load, "100ms").Should(BeEquivalentTo(1))
		})

		It("treats a pack returning a nil command as failed", func() {
			var failures atomic.Int32
			bus.Subscribe(event.PackFailed, func(e event.Event) {
				if e.Data.(event.PackFailedData).Pack == "holey" {
					failures.Add(1)
				}
			})

			svc := newService(shell.WithPacks(nilPack("holey"), namedPack("good", "ps")))
			startCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			Expect(svc.Start(startCtx)).To(Succeed())

			Expect(svc.State()).To(Equal(shell.Running))
			Expect(svc.Manager().Names()).To(Equal([]string{"ps"}))
			Eventually(failures.Load).Should(BeEquivalentTo(1))
		})

		It("keeps the first command when packs share a name", func() {
			svc := newService(shell.WithPacks(
				namedPack("first", "ls"),
				namedPack("second", "ls", "ps"),
			))
			Expect(svc.Start(ctx)).To(Succeed())

			Expect(svc.Manager().Names()).To(Equal([]string{"ls", "ps"}))
			Expect(run(svc, "ls")).To(Equal("ls from first\n"))
		})

		It("loads the base pack from configuration", func() {
			cfg.CommandPacks = []string{"base"}
			svc := newService()
			Expect(svc.Start(ctx)).To(Succeed())

			Expect(svc.Manager().Names()).To(ContainElements("echo", "help", "ls", "server-ls"))
		})

		It("binds listeners and lists them in server-ls", func() {
			l := &fakeListener{name: "admin"}
			cfg.CommandPacks = []string{"base"}
			svc := newService(shell.WithListeners(l))
			Expect(svc.Start(ctx)).To(Succeed())

			binds, _ := l.counts()
			Expect(binds).To(Equal(1))
			Expect(run(svc, "server-ls")).To(ContainSubstring("fake://admin"))
		})

		It("rolls back when a listener cannot bind", func() {
			good := &fakeListener{name: "good"}
			bad := &fakeListener{name: "bad", bindErr: errors.New("address in use")}
			svc := newService(
				shell.WithPacks(namedPack("p", "ls")),
				shell.WithListeners(good, bad),
			)

			err := svc.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("bind bad")))
			Expect(svc.State()).To(Equal(shell.Closed))
			Eventually(svc.Done()).Should(BeClosed())

			binds, unbinds := good.counts()
			Expect(binds).To(Equal(1))
			Expect(unbinds).To(Equal(1))
			_, err = svc.Manager().Lookup("ls")
			Expect(err).To(MatchError(command.ErrNotFound))
		})

		It("holds session lines until the service runs", func() {
			var svc *shell.Service
			var out bytes.Buffer
			ran := make(chan command.Outcome, 1)
			early := &fakeListener{name: "early", onBind: func() {
				go func() {
					o, _ := svc.Dispatcher().Exec(ctx, nil, "ls", nil, &out, &out)
					ran <- o
				}()
			}}
			late := &fakeListener{name: "late", onBind: func() {
				Consistently(ran, "50ms").ShouldNot(Receive())
			}}
			svc = newService(shell.WithPacks(namedPack("p", "ls")), shell.WithListeners(early, late))

			Expect(svc.Start(ctx)).To(Succeed())
			var o command.Outcome
			Eventually(ran).Should(Receive(&o))
			Expect(o.Status).To(Equal(command.Succeeded))
			Expect(out.String()).To(Equal("ls from p\n"))
		})

		It("fails held session lines when a later bind fails", func() {
			var svc *shell.Service
			var out bytes.Buffer
			ran := make(chan command.Outcome, 1)
			early := &fakeListener{name: "early", onBind: func() {
				go func() {
					o, _ := svc.Dispatcher().Exec(ctx, nil, "ls", nil, &out, &out)
					ran <- o
				}()
			}}
			bad := &fakeListener{name: "bad", bindErr: errors.New("address in use")}
			svc = newService(shell.WithPacks(namedPack("p", "ls")), shell.WithListeners(early, bad))

			Expect(svc.Start(ctx)).To(MatchError(ContainSubstring("bind bad")))
			var o command.Outcome
			Eventually(ran).Should(Receive(&o))
			Expect(o.Status).To(Equal(command.Failed))
			Expect(o.Err).To(MatchError(session.ErrUnavailable))
			Expect(out.String()).NotTo(ContainSubstring("ls from p"))
		})

		It("starts only once", func() {
			svc := newService()
			Expect(svc.Start(ctx)).To(Succeed())
			err := svc.Start(ctx)
			Expect(err).To(MatchError(shell.ErrIllegalState))

			var ise *shell.IllegalStateError
			Expect(errors.As(err, &ise)).To(BeTrue())
			Expect(ise.State).To(Equal(shell.Running))
		})

		It("reports the result asynchronously", func() {
			svc := newService(shell.WithPacks(namedPack("p", "ls")))
			var result error
			Eventually(svc.StartAsync(ctx)).Should(Receive(&result))
			Expect(result).NotTo(HaveOccurred())
			Expect(svc.State()).To(Equal(shell.Running))
		})

		It("publishes each state change", func() {
			states := make(chan string, 8)
			bus.Subscribe(event.ServiceStateChanged, func(e event.Event) {
				states <- e.Data.(event.StateChangedData).To
			})

			svc := newService()
			Expect(svc.Start(ctx)).To(Succeed())
			Expect(svc.Close(ctx)).To(Succeed())

			var seen []string
			Eventually(func() []string {
				for {
					select {
					case s := <-states:
						seen = append(seen, s)
					default:
						return seen
					}
				}
			}).Should(ConsistOf("starting", "running", "closing", "closed"))
		})
	})

	Describe("Close", func() {
		It("unregisters commands and rejects later adds", func() {
			l := &fakeListener{name: "admin"}
			svc := newService(shell.WithPacks(namedPack("p", "ls")), shell.WithListeners(l))
			Expect(svc.Start(ctx)).To(Succeed())

			err := svc.Manager().Add(ctx, command.New("ls"))
			Expect(err).To(MatchError(command.ErrNameConflict))

			Expect(svc.Close(ctx)).To(Succeed())
			Expect(svc.State()).To(Equal(shell.Closed))
			_, unbinds := l.counts()
			Expect(unbinds).To(Equal(1))

			_, err = svc.Manager().Lookup("ls")
			Expect(err).To(MatchError(command.ErrNotFound))
			Expect(svc.Manager().Closed()).To(BeTrue())
		})

		It("cancels in-flight executions exactly once", func() {
			svc := newService(shell.WithPacks(blockingPack("p")))
			Expect(svc.Start(ctx)).To(Succeed())

			var exes []*command.Execution
			for i := 0; i < 3; i++ {
				exe, err := svc.Manager().Invoke(ctx, command.Request{Name: "block"})
				Expect(err).NotTo(HaveOccurred())
				exes = append(exes, exe)
			}

			Expect(svc.Close(ctx)).To(Succeed())
			for _, exe := range exes {
				Expect(exe.Done()).To(BeClosed())
				Expect(exe.Outcome().Status).To(Equal(command.Cancelled))
				Expect(exe.Cancel()).To(MatchError(command.ErrAlreadyCompleted))
			}
		})

		It("gives up waiting on handlers that ignore cancellation", func() {
			cfg.ShutdownTimeout = "50ms"
			release := make(chan struct{})
			DeferCleanup(func() { close(release) })
			stubborn := command.NewStaticPack("p", func() *command.Command {
				return command.New("stubborn").SetExecuteHandler(func(exe *command.Execution) {
					<-release
				})
			})
			svc := newService(shell.WithPacks(stubborn))
			Expect(svc.Start(ctx)).To(Succeed())
			exe, err := svc.Manager().Invoke(ctx, command.Request{Name: "stubborn"})
			Expect(err).NotTo(HaveOccurred())

			start := time.Now()
			Expect(svc.Close(ctx)).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(exe.Outcome().Status).To(Equal(command.Cancelled))
		})

		It("closes a service that never started", func() {
			svc := newService()
			Expect(svc.Close(ctx)).To(Succeed())
			Expect(svc.State()).To(Equal(shell.Closed))

			Expect(svc.Start(ctx)).To(MatchError(shell.ErrIllegalState))
			Expect(svc.Close(ctx)).To(MatchError(shell.ErrIllegalState))
		})

		It("closes asynchronously", func() {
			svc := newService()
			Expect(svc.Start(ctx)).To(Succeed())
			var result error
			Eventually(svc.CloseAsync(ctx)).Should(Receive(&result))
			Expect(result).NotTo(HaveOccurred())
			Expect(svc.Done()).To(BeClosed())
		})
	})

	Describe("Reload", func() {
		It("replaces each pack's commands with a fresh set", func() {
			var generation atomic.Int32
			pack := command.NewPack("gen", func(ctx context.Context) ([]*command.Command, error) {
				if generation.Add(1) == 1 {
					return []*command.Command{command.New("old"), command.New("kept")}, nil
				}
				return []*command.Command{command.New("kept"), command.New("new")}, nil
			})
			svc := newService(shell.WithPacks(pack))
			Expect(svc.Start(ctx)).To(Succeed())
			before, err := svc.Manager().Lookup("kept")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.Reload(ctx)).To(Succeed())
			Expect(svc.Manager().Names()).To(Equal([]string{"kept", "new"}))
			after, err := svc.Manager().Lookup("kept")
			Expect(err).NotTo(HaveOccurred())
			Expect(after).NotTo(BeIdenticalTo(before))
		})

		It("keeps the old commands of a pack that fails", func() {
			var calls atomic.Int32
			pack := command.NewPack("flaky", func(ctx context.Context) ([]*command.Command, error) {
				if calls.Add(1) > 1 {
					return nil, errors.New("gone")
				}
				return []*command.Command{command.New("ls")}, nil
			})
			svc := newService(shell.WithPacks(pack))
			Expect(svc.Start(ctx)).To(Succeed())

			Expect(svc.Reload(ctx)).To(Succeed())
			Expect(svc.Manager().Names()).To(Equal([]string{"ls"}))
		})

		It("requires a running service", func() {
			svc := newService()
			Expect(svc.Reload(ctx)).To(MatchError(shell.ErrIllegalState))
		})
	})
})
