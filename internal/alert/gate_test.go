package alert_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procodus.dev/aquamon/internal/alert"
	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/store"
)

// recordingSender captures dispatches and optionally fails for selected
// addresses.
type recordingSender struct {
	sent    []string
	failFor map[string]bool
}

func (s *recordingSender) Send(_ context.Context, recipientAddress, _ string, _ classify.Status) error {
	if s.failFor[recipientAddress] {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, recipientAddress)
	return nil
}

var _ = Describe("Gate", func() {
	var (
		logger *slog.Logger
		db     *gorm.DB
		sender *recordingSender
		now    time.Time
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))

		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Migrate(db, logger)).To(Succeed())

		sender = &recordingSender{failFor: map[string]bool{}}
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	newGate := func(window time.Duration) *alert.Gate {
		gate, err := alert.NewGate(&alert.GateConfig{
			Logger: logger,
			DB:     db,
			Sender: sender,
			Window: window,
			Now:    func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
		return gate
	}

	addRecipient := func(address string) *store.Recipient {
		recipient, err := store.AddRecipient(context.Background(), db, address)
		Expect(err).NotTo(HaveOccurred())
		return recipient
	}

	lastNotified := func(address string) *time.Time {
		var recipient store.Recipient
		Expect(db.Where("address = ?", address).First(&recipient).Error).To(Succeed())
		return recipient.LastNotifiedAt
	}

	Describe("NewGate", func() {
		It("should return error when config is nil", func() {
			gate, err := alert.NewGate(nil)
			Expect(err).To(HaveOccurred())
			Expect(gate).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			gate, err := alert.NewGate(&alert.GateConfig{DB: db, Sender: sender})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(gate).To(BeNil())
		})

		It("should return error when database is nil", func() {
			gate, err := alert.NewGate(&alert.GateConfig{Logger: logger, Sender: sender})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database"))
			Expect(gate).To(BeNil())
		})

		It("should return error when sender is nil", func() {
			gate, err := alert.NewGate(&alert.GateConfig{Logger: logger, DB: db})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("sender"))
			Expect(gate).To(BeNil())
		})
	})

	Describe("NotifyRecipients", func() {
		It("should dispatch to a never-notified recipient and stamp the time", func() {
			addRecipient("ops@example.com")

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(Equal([]string{"ops@example.com"}))

			stamped := lastNotified("ops@example.com")
			Expect(stamped).NotTo(BeNil())
			Expect(stamped.Unix()).To(Equal(now.Unix()))
		})

		It("should suppress a recipient notified within the window", func() {
			recipient := addRecipient("ops@example.com")
			recent := now.Add(-10 * time.Second)
			Expect(store.MarkNotified(context.Background(), db, recipient.ID, recent)).To(Succeed())

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(BeEmpty())
			Expect(lastNotified("ops@example.com").Unix()).To(Equal(recent.Unix()))
		})

		It("should dispatch again once the window has elapsed", func() {
			recipient := addRecipient("ops@example.com")
			stale := now.Add(-2 * time.Minute)
			Expect(store.MarkNotified(context.Background(), db, recipient.ID, stale)).To(Succeed())

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(Equal([]string{"ops@example.com"}))
			Expect(lastNotified("ops@example.com").Unix()).To(Equal(now.Unix()))
		})

		It("should evaluate each recipient independently", func() {
			suppressed := addRecipient("recent@example.com")
			addRecipient("fresh@example.com")
			Expect(store.MarkNotified(context.Background(), db, suppressed.ID,
				now.Add(-5*time.Second))).To(Succeed())

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(Equal([]string{"fresh@example.com"}))
		})

		It("should keep a failed recipient eligible", func() {
			addRecipient("broken@example.com")
			sender.failFor["broken@example.com"] = true

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(BeEmpty())
			Expect(lastNotified("broken@example.com")).To(BeNil())

			// Next trigger retries without waiting out the window.
			sender.failFor["broken@example.com"] = false
			Expect(gate.NotifyRecipients(context.Background(), "node-2", classify.StatusBad)).To(Succeed())
			Expect(sender.sent).To(Equal([]string{"broken@example.com"}))
		})

		It("should not abort remaining dispatches when one recipient fails", func() {
			addRecipient("a@example.com")
			addRecipient("b@example.com")
			addRecipient("c@example.com")
			sender.failFor["b@example.com"] = true

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())

			Expect(sender.sent).To(ConsistOf("a@example.com", "c@example.com"))
		})

		It("should do nothing when no recipients are registered", func() {
			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())
			Expect(sender.sent).To(BeEmpty())
		})

		It("should rate-limit globally across nodes", func() {
			addRecipient("ops@example.com")

			gate := newGate(time.Minute)
			Expect(gate.NotifyRecipients(context.Background(), "node-1", classify.StatusBad)).To(Succeed())
			Expect(gate.NotifyRecipients(context.Background(), "node-2", classify.StatusBad)).To(Succeed())

			// Second event lands inside the window started by the first.
			Expect(sender.sent).To(Equal([]string{"ops@example.com"}))
		})
	})
})
