package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/telnet2/shelld/citest/testutil"
)

var _ = Describe("File pack reload", func() {
	It("registers commands written after start", func() {
		name := "late" + testutil.RandomString(4)
		Expect(testServer.WriteCommand(name+".md", testutil.CommandFile("Late arrival", "arrived late"))).To(Succeed())

		Eventually(func() string {
			res, err := client.Exec(ctx, name, "")
			Expect(err).NotTo(HaveOccurred())
			return res.Stdout
		}, 5*time.Second, 100*time.Millisecond).Should(ContainSubstring("arrived late"))

		res, err := client.Exec(ctx, "greet again", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Stdout).To(ContainSubstring("hello again"))
	})
})
