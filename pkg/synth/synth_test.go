package synth_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/aquamon/pkg/synth"
)

var _ = Describe("NewNode", func() {
	It("should fabricate a node with an id and coordinates", func() {
		node := synth.NewNode()
		Expect(node).NotTo(BeNil())
		Expect(node.NodeID).NotTo(BeEmpty())
		Expect(node.Latitude).To(BeNumerically(">=", -90))
		Expect(node.Latitude).To(BeNumerically("<=", 90))
		Expect(node.Longitude).To(BeNumerically(">=", -180))
		Expect(node.Longitude).To(BeNumerically("<=", 180))
		Expect(node.LastUpdated).NotTo(BeZero())
	})

	It("should fabricate distinct ids", func() {
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			node := synth.NewNode()
			Expect(node).NotTo(BeNil())
			Expect(seen[node.NodeID]).To(BeFalse())
			seen[node.NodeID] = true
		}
	})
})

var _ = Describe("NewReading", func() {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	It("should stamp the supplied time", func() {
		reading := synth.NewReading(now)
		Expect(reading.Timestamp).To(Equal(now))
	})

	It("should keep every value in its plausible range", func() {
		for i := 0; i < 200; i++ {
			reading := synth.NewReading(now)
			Expect(reading.TDS).To(BeNumerically(">=", 100))
			Expect(reading.TDS).To(BeNumerically("<=", 500))
			Expect(reading.PH).To(BeNumerically(">=", 6.0))
			Expect(reading.PH).To(BeNumerically("<=", 8.5))
			Expect(reading.Humidity).To(BeNumerically(">=", 30))
			Expect(reading.Humidity).To(BeNumerically("<=", 90))
			Expect(reading.Temperature).To(BeNumerically(">=", 20))
			Expect(reading.Temperature).To(BeNumerically("<=", 35))
		}
	})

	It("should only assign the three known statuses", func() {
		seen := map[string]int{}
		for i := 0; i < 500; i++ {
			seen[synth.NewReading(now).Status]++
		}
		for status := range seen {
			Expect(status).To(BeElementOf("GOOD", "WARNING", "BAD"))
		}
		// With 500 draws at 70/20/10 every status should show up.
		Expect(seen).To(HaveKey("GOOD"))
		Expect(seen["GOOD"]).To(BeNumerically(">", seen["BAD"]))
	})
})
