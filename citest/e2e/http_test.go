package e2e_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/telnet2/shelld/citest/testutil"
)

var _ = Describe("HTTP API", func() {
	Describe("GET /health", func() {
		It("reports ok", func() {
			health, err := client.Health(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal("ok"))
		})
	})

	Describe("GET /commands", func() {
		It("lists the base and file pack commands", func() {
			cmds, err := client.Commands(ctx)
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(cmds))
			for _, c := range cmds {
				names = append(names, c.Name)
			}
			Expect(names).To(ContainElements("echo", "help", "server-ls", "greet", "ops:status"))
		})
	})

	Describe("POST /exec", func() {
		It("runs a built-in command", func() {
			res, err := client.Exec(ctx, "echo hello world", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("success"))
			Expect(res.ExitCode).To(Equal(0))
			Expect(res.Stdout).To(Equal("hello world\n"))
		})

		It("renders a file pack command", func() {
			res, err := client.Exec(ctx, "greet ops", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(ContainSubstring("hello ops from citest"))

			res, err = client.Exec(ctx, "ops:status", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(ContainSubstring("all systems nominal"))
		})

		It("reports unknown commands with suggestions", func() {
			res, err := client.Exec(ctx, "ehco hi", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("failure"))
			Expect(res.ExitCode).To(Equal(127))
			Expect(res.Stderr).To(ContainSubstring("ehco: command not found"))
			Expect(res.Stderr).To(ContainSubstring("echo"))
		})

		It("lists the bound listeners", func() {
			res, err := client.Exec(ctx, "server-ls", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(ContainSubstring("api"))
			Expect(res.Stdout).To(ContainSubstring(testServer.TelnetAddr))
		})

		It("shares local maps across sessions", func() {
			key := testutil.RandomString(8)
			res, err := client.Exec(ctx, "local-map-put citest "+key+" 42", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("success"))

			res, err = client.Exec(ctx, "local-map-get citest "+key, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(Equal(key + ": 42\n"))
		})
	})

	Describe("sessions", func() {
		var sessions *testutil.SessionManager

		BeforeEach(func() {
			sessions = testutil.NewSessionManager(client)
		})

		AfterEach(func() {
			sessions.Cleanup(ctx)
		})

		It("keeps the working directory between requests", func() {
			id, err := sessions.Create(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := client.Exec(ctx, "cd /commands", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal("success"), res.Stderr)

			res, err = client.Exec(ctx, "pwd; ls", id)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(HavePrefix("/commands\n"))
			Expect(res.Stdout).To(ContainSubstring("greet.md"))

			res, err = client.Exec(ctx, "pwd", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(Equal("/\n"))
		})

		It("lists and deletes sessions", func() {
			id, err := sessions.Create(ctx)
			Expect(err).NotTo(HaveOccurred())

			list, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(list))
			for _, s := range list {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(ContainElement(id))

			Expect(client.DeleteSession(ctx, id)).To(Succeed())
			Expect(client.DeleteSession(ctx, id)).NotTo(Succeed())

			_, err = client.Exec(ctx, "pwd", id)
			Expect(err).To(MatchError(ContainSubstring("404")))
		})
	})
})
