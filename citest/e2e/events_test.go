package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/telnet2/shelld/citest/testutil"
)

var _ = Describe("Event stream", func() {
	var events *testutil.SSEClient

	BeforeEach(func() {
		events = testServer.SSEClient()
		Expect(events.Connect(ctx, "/events")).To(Succeed())
		DeferCleanup(events.Close)
	})

	It("streams execution events", func() {
		_, err := client.Exec(ctx, "echo traced", "")
		Expect(err).NotTo(HaveOccurred())

		evt, err := events.WaitForEvent("execution.completed", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var data testutil.ExecutionEventData
		Expect(evt.Decode(&data)).To(Succeed())
		Expect(data.Command).To(Equal("echo"))
		Expect(data.Status).To(Equal("success"))
	})

	It("streams session events", func() {
		sessions := testutil.NewSessionManager(client)
		id, err := sessions.Create(ctx)
		Expect(err).NotTo(HaveOccurred())
		sessions.Cleanup(ctx)

		evt, err := events.WaitForEvent("session.opened", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var opened testutil.SessionEventData
		Expect(evt.Decode(&opened)).To(Succeed())
		Expect(opened.ID).To(Equal(id))
		Expect(opened.Listener).To(Equal("api"))

		_, err = events.WaitForEvent("session.closed", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	It("filters by type", func() {
		filtered := testServer.SSEClient()
		Expect(filtered.Connect(ctx, "/events?type=session.closed")).To(Succeed())
		defer filtered.Close()

		_, err := client.Exec(ctx, "echo filtered", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = filtered.WaitForEvent("session.closed", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(filtered.CountEventType("execution.completed")).To(Equal(0))
	})
})
