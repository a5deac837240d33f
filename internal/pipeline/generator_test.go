package pipeline_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/toggles"
)

var _ = Describe("Generator", func() {
	var (
		db    *gorm.DB
		flags *toggles.Toggles
	)

	BeforeEach(func() {
		db = newTestDB()
		flags = toggles.New(true, true, true)
	})

	newGenerator := func() *pipeline.Generator {
		g, err := pipeline.NewGenerator(&pipeline.GeneratorConfig{
			Logger:  testLogger(),
			DB:      db,
			Toggles: flags,
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	Describe("NewGenerator", func() {
		It("should return error when config is nil", func() {
			g, err := pipeline.NewGenerator(nil)
			Expect(err).To(HaveOccurred())
			Expect(g).To(BeNil())
		})

		It("should return error when database is nil", func() {
			g, err := pipeline.NewGenerator(&pipeline.GeneratorConfig{
				Logger:  testLogger(),
				Toggles: flags,
			})
			Expect(err).To(HaveOccurred())
			Expect(g).To(BeNil())
		})
	})

	Describe("Tick", func() {
		It("should insert one reading per registered node", func() {
			for _, nodeID := range []string{"node-1", "node-2", "node-3"} {
				_, err := store.EnsureNode(db, nodeID, 10.5, 106.5, time.Now().UTC())
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(newGenerator().Tick(context.Background())).To(Succeed())

			for _, nodeID := range []string{"node-1", "node-2", "node-3"} {
				var readings []store.Reading
				Expect(db.Where("node_id = ?", nodeID).Find(&readings).Error).To(Succeed())
				Expect(readings).To(HaveLen(1))
			}
		})

		It("should pre-assign a terminal status in the synthetic range", func() {
			_, err := store.EnsureNode(db, "node-1", 10.5, 106.5, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())

			Expect(newGenerator().Tick(context.Background())).To(Succeed())

			var reading store.Reading
			Expect(db.First(&reading).Error).To(Succeed())
			Expect(reading.Status).NotTo(BeNil())

			status, parseErr := classify.ParseStatus(*reading.Status)
			Expect(parseErr).NotTo(HaveOccurred())
			Expect(status.Valid()).To(BeTrue())

			Expect(reading.TDS).To(BeNumerically(">=", 100))
			Expect(reading.TDS).To(BeNumerically("<=", 500))
			Expect(reading.PH).To(BeNumerically(">=", 6.0))
			Expect(reading.PH).To(BeNumerically("<=", 8.5))
		})

		It("should roll back the whole sweep when one insert fails", func() {
			for _, nodeID := range []string{"node-1", "node-2", "node-3"} {
				_, err := store.EnsureNode(db, nodeID, 10.5, 106.5, time.Now().UTC())
				Expect(err).NotTo(HaveOccurred())
			}

			// Nodes are swept in node_id order, so blocking the last one
			// would leave the first two inserted without a transaction.
			Expect(db.Exec(`CREATE TRIGGER block_node_3 BEFORE INSERT ON readings
				WHEN NEW.node_id = 'node-3'
				BEGIN SELECT RAISE(ABORT, 'insert blocked'); END`).Error).To(Succeed())

			Expect(newGenerator().Tick(context.Background())).NotTo(Succeed())

			var n int64
			Expect(db.Model(&store.Reading{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("should do nothing with no registered nodes", func() {
			Expect(newGenerator().Tick(context.Background())).To(Succeed())

			var n int64
			Expect(db.Model(&store.Reading{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeZero())
		})
	})

	Describe("Run", func() {
		It("should skip ticks while the toggle is disabled", func() {
			_, err := store.EnsureNode(db, "node-1", 10.5, 106.5, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())

			flags.Set(toggles.Generator, false)
			g, err := pipeline.NewGenerator(&pipeline.GeneratorConfig{
				Logger:   testLogger(),
				DB:       db,
				Toggles:  flags,
				Interval: 5 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			g.Run(ctx)

			var n int64
			Expect(db.Model(&store.Reading{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("should produce readings while the toggle is enabled", func() {
			_, err := store.EnsureNode(db, "node-1", 10.5, 106.5, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())

			g, err := pipeline.NewGenerator(&pipeline.GeneratorConfig{
				Logger:   testLogger(),
				DB:       db,
				Toggles:  flags,
				Interval: 5 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			g.Run(ctx)

			var n int64
			Expect(db.Model(&store.Reading{}).Count(&n).Error).To(Succeed())
			Expect(n).To(BeNumerically(">", 0))
		})
	})
})

var _ = Describe("SeedNodes", func() {
	var db *gorm.DB

	BeforeEach(func() {
		db = newTestDB()
	})

	It("should fabricate the requested number of nodes", func() {
		Expect(pipeline.SeedNodes(context.Background(), db, testLogger(), 5)).To(Succeed())

		var n int64
		Expect(db.Model(&store.Node{}).Count(&n).Error).To(Succeed())
		Expect(n).To(Equal(int64(5)))
	})

	It("should be a no-op for zero count", func() {
		Expect(pipeline.SeedNodes(context.Background(), db, testLogger(), 0)).To(Succeed())

		var n int64
		Expect(db.Model(&store.Node{}).Count(&n).Error).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("should leave existing nodes untouched", func() {
		_, err := store.EnsureNode(db, "node-existing", 10.5, 106.5, time.Now().UTC())
		Expect(err).NotTo(HaveOccurred())

		Expect(pipeline.SeedNodes(context.Background(), db, testLogger(), 3)).To(Succeed())

		var node store.Node
		Expect(db.Where("node_id = ?", "node-existing").First(&node).Error).To(Succeed())
		Expect(node.Latitude).To(Equal(10.5))
	})
})
