package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procodus.dev/aquamon/internal/alert"
	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/toggles"
)

// silentSender swallows alert dispatches during handler tests.
type silentSender struct{}

func (silentSender) Send(_ context.Context, _, _ string, _ classify.Status) error {
	return nil
}

var _ = Describe("Server", func() {
	var (
		db     *gorm.DB
		flags  *toggles.Toggles
		router *gin.Engine
	)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Migrate(db, logger)).To(Succeed())

		gate, err := alert.NewGate(&alert.GateConfig{
			Logger: logger,
			DB:     db,
			Sender: silentSender{},
		})
		Expect(err).NotTo(HaveOccurred())

		flags = toggles.New(true, true, false)

		p, err := pipeline.New(&pipeline.Config{
			Logger:     logger,
			DB:         db,
			Classifier: classify.NewRuleBased(),
			Gate:       gate,
			Toggles:    flags,
		})
		Expect(err).NotTo(HaveOccurred())

		server, err := NewServer(&ServerConfig{
			Logger:   logger,
			DB:       db,
			Pipeline: p,
			Toggles:  flags,
			HTTPPort: 8080,
		})
		Expect(err).NotTo(HaveOccurred())

		router = server.setupRoutes()
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	batchBody := func(nodeID string, tds float64) string {
		return fmt.Sprintf(
			`[{"node_id":%q,"data":[{"tds":%g,"ph":7.2,"humidity":50,"temperature":25,"timestamp":%d}]}]`,
			nodeID, tds, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
		)
	}

	Describe("NewServer", func() {
		It("should return error when config is nil", func() {
			server, err := NewServer(nil)
			Expect(err).To(HaveOccurred())
			Expect(server).To(BeNil())
		})

		It("should return error when the port is not positive", func() {
			server, err := NewServer(&ServerConfig{
				Logger: logger, DB: db, Toggles: flags,
			})
			Expect(err).To(HaveOccurred())
			Expect(server).To(BeNil())
		})
	})

	Describe("POST /api/sensor-data", func() {
		It("should ingest a valid batch", func() {
			rec := do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 300))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var count int64
			Expect(db.Model(&store.Reading{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("should reject a malformed batch with 400", func() {
			body := `[{"node_id":"node-1","data":[{"ph":7.2}]}]`
			rec := do(http.MethodPost, "/api/sensor-data", body)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			var count int64
			Expect(db.Model(&store.Reading{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
		})

		It("should reject invalid JSON with 400", func() {
			rec := do(http.MethodPost, "/api/sensor-data", "{not json")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 503 while the webhook toggle is disabled", func() {
			flags.Set(toggles.Webhook, false)

			rec := do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 300))
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

			var count int64
			Expect(db.Model(&store.Reading{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
		})
	})

	Describe("GET /api/nodes", func() {
		It("should list nodes with their latest reading", func() {
			Expect(do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 300)).Code).
				To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 600)).Code).
				To(Equal(http.StatusOK))

			rec := do(http.MethodGet, "/api/nodes", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var entries []struct {
				NodeID string `json:"node_id"`
				Latest *struct {
					TDS    float64 `json:"tds"`
					Status *string `json:"status"`
				} `json:"latest"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].NodeID).To(Equal("node-1"))
			Expect(entries[0].Latest).NotTo(BeNil())
			Expect(entries[0].Latest.TDS).To(Equal(600.0))
			Expect(*entries[0].Latest.Status).To(Equal("WARNING"))
		})

		It("should return an empty list on a fresh database", func() {
			rec := do(http.MethodGet, "/api/nodes", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})
	})

	Describe("GET /api/nodes/:node_id", func() {
		It("should return the node with readings newest first", func() {
			Expect(do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 300)).Code).
				To(Equal(http.StatusOK))

			rec := do(http.MethodGet, "/api/nodes/node-1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var payload struct {
				NodeID     string `json:"node_id"`
				SensorData []struct {
					TDS float64 `json:"tds"`
				} `json:"sensor_data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &payload)).To(Succeed())
			Expect(payload.NodeID).To(Equal("node-1"))
			Expect(payload.SensorData).To(HaveLen(1))
		})

		It("should answer 404 for an unknown node", func() {
			rec := do(http.MethodGet, "/api/nodes/ghost", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/dashboard", func() {
		It("should mirror the node list read model", func() {
			Expect(do(http.MethodPost, "/api/sensor-data", batchBody("node-1", 300)).Code).
				To(Equal(http.StatusOK))

			rec := do(http.MethodGet, "/api/dashboard", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var entries []dashboardEntry
			Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
		})
	})

	Describe("recipients", func() {
		It("should register a recipient", func() {
			rec := do(http.MethodPost, "/api/recipients", `{"address":"ops@example.com"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var view recipientView
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view.Address).To(Equal("ops@example.com"))
			Expect(view.LastNotifiedAt).To(BeNil())
		})

		It("should reject a duplicate with 409", func() {
			Expect(do(http.MethodPost, "/api/recipients", `{"address":"ops@example.com"}`).Code).
				To(Equal(http.StatusCreated))
			rec := do(http.MethodPost, "/api/recipients", `{"address":"ops@example.com"}`)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("should reject a missing address with 400", func() {
			rec := do(http.MethodPost, "/api/recipients", `{}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should list registered recipients", func() {
			Expect(do(http.MethodPost, "/api/recipients", `{"address":"ops@example.com"}`).Code).
				To(Equal(http.StatusCreated))

			rec := do(http.MethodGet, "/api/recipients", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var views []recipientView
			Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(Succeed())
			Expect(views).To(HaveLen(1))
		})

		It("should remove a recipient", func() {
			Expect(do(http.MethodPost, "/api/recipients", `{"address":"ops@example.com"}`).Code).
				To(Equal(http.StatusCreated))

			rec := do(http.MethodDelete, "/api/recipients/ops@example.com", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = do(http.MethodGet, "/api/recipients", "")
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})

		It("should answer 404 when removing an unknown recipient", func() {
			rec := do(http.MethodDelete, "/api/recipients/ghost@example.com", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("toggles", func() {
		It("should list the current toggle values", func() {
			rec := do(http.MethodGet, "/api/toggles", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var snapshot map[string]bool
			Expect(json.Unmarshal(rec.Body.Bytes(), &snapshot)).To(Succeed())
			Expect(snapshot).To(HaveKeyWithValue("notifications", true))
			Expect(snapshot).To(HaveKeyWithValue("webhook", true))
			Expect(snapshot).To(HaveKeyWithValue("generator", false))
		})

		It("should enable and disable a toggle", func() {
			rec := do(http.MethodPost, "/api/toggles/generator/enable", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(flags.GeneratorEnabled()).To(BeTrue())

			rec = do(http.MethodPost, "/api/toggles/generator/disable", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(flags.GeneratorEnabled()).To(BeFalse())
		})

		It("should answer 404 for an unknown toggle", func() {
			rec := do(http.MethodPost, "/api/toggles/turbo/enable", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /healthz", func() {
		It("should report ok", func() {
			rec := do(http.MethodGet, "/healthz", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose the Prometheus registry", func() {
			rec := do(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})
