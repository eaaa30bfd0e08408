package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/telnet2/shelld/citest/testutil"
)

var _ = Describe("Telnet console", func() {
	var console *testutil.TelnetClient

	BeforeEach(func() {
		var err error
		console, err = testServer.Telnet()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(console.Close)
	})

	It("runs commands line by line", func() {
		out, err := console.Run("echo over telnet")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("over telnet\n"))

		out, err = console.Run("help echo")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("echo"))
	})

	It("receives bus messages sent over HTTP until interrupted", func() {
		topic := "news-" + testutil.RandomString(6)
		Expect(console.Send("bus-tail " + topic + "\n")).To(Succeed())

		received := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := console.ReadUntil("breaking", 5*time.Second)
			received <- err
		}()

		// bus-tail subscribes asynchronously; keep sending until it sees one.
		Eventually(func() bool {
			_, err := client.Exec(ctx, "bus-send "+topic+" breaking", "")
			Expect(err).NotTo(HaveOccurred())
			select {
			case err := <-received:
				Expect(err).NotTo(HaveOccurred())
				return true
			default:
				return false
			}
		}, 5*time.Second, 100*time.Millisecond).Should(BeTrue())

		Expect(console.Send("\x03")).To(Succeed())
		_, err := console.ReadPrompt()
		Expect(err).NotTo(HaveOccurred())

		out, err := console.Run("echo still here")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("still here"))
	})

	It("shows up in the session list while connected", func() {
		Eventually(func() []string {
			list, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			var listeners []string
			for _, s := range list {
				listeners = append(listeners, s.Listener)
			}
			return listeners
		}).Should(ContainElement("console"))
	})
})
