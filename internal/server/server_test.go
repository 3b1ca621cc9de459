package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/detection"
	"github.com/dbsentinel/piiscan/pkg/scan/orchestrator"
	"github.com/dbsentinel/piiscan/pkg/scan/progress"
	"github.com/dbsentinel/piiscan/pkg/scan/report"
	"github.com/dbsentinel/piiscan/pkg/testutil"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return log
}

// scanReadyConn programs a sqlmock handle for a one-table, one-column scan.
func scanReadyConn() *testutil.MockScopedConnection {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	Expect(err).NotTo(HaveOccurred())
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`current_database`).
		WillReturnRows(sqlmock.NewRows([]string{"db", "schema"}).AddRow("appdb", "public"))
	mock.ExpectQuery(`SELECT version`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("PostgreSQL 16.2"))
	mock.ExpectQuery(`information_schema\.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_type"}).AddRow("users", "BASE TABLE"))
	mock.ExpectQuery(`information_schema\.columns`).
		WillReturnRows(sqlmock.NewRows([]string{
			"table_name", "column_name", "data_type", "is_nullable", "size", "scale", "ordinal_position", "is_primary_key", "comment",
		}).AddRow("users", "email", "character varying", true, 255, 0, 1, false, ""))
	mock.ExpectQuery(`FOREIGN KEY`).
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "source_table", "source_column", "target_table", "target_column"}))
	mock.ExpectQuery(`SELECT "email"::text`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("a@x.io").AddRow("b@y.io"))

	return testutil.NewMockConnection(sqlx.NewDb(db, "sqlmock"), "postgres")
}

var _ = Describe("Server", func() {
	var (
		srv      *Server
		orch     *orchestrator.Orchestrator
		provider *testutil.MockConnectionProvider
	)

	BeforeEach(func() {
		log := quietLogger()
		provider = testutil.NewMockConnectionProvider()
		provider.Register("appdb", scanReadyConn())

		var err error
		orch, err = orchestrator.New(provider, []detection.Strategy{
			detection.NewHeuristicStrategy(),
			detection.NewRegexStrategy(),
		}, progress.NewBus(), log, orchestrator.Options{})
		Expect(err).NotTo(HaveOccurred())

		defaults := scan.ScanRequest{
			Sampling:  scan.DefaultSamplingConfig(),
			Detection: scan.DefaultDetectionConfig(),
			Qi:        scan.DefaultQiConfig(),
		}
		srv = New(orch, report.NewRegistry(), nil, defaults, prometheus.NewRegistry(), "/metrics", log)
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var payload bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&payload).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &payload)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	It("should report health", func() {
		rec := do(http.MethodGet, "/healthz", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("should expose metrics", func() {
		rec := do(http.MethodGet, "/metrics", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("should accept a submission and expose status, then the report", func() {
		rec := do(http.MethodPost, "/api/v1/scans", map[string]string{"connectionId": "appdb"})
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		var accepted map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &accepted)).To(Succeed())
		jobID := accepted["jobId"]
		Expect(jobID).NotTo(BeEmpty())

		Eventually(func() scan.Phase {
			job, err := orch.Status(jobID)
			Expect(err).NotTo(HaveOccurred())
			return job.Phase
		}, 5*time.Second).Should(Equal(scan.PhaseCompleted))

		statusRec := do(http.MethodGet, "/api/v1/scans/"+jobID, nil)
		Expect(statusRec.Code).To(Equal(http.StatusOK))

		reportRec := do(http.MethodGet, "/api/v1/scans/"+jobID+"/report?format=json", nil)
		Expect(reportRec.Code).To(Equal(http.StatusOK))
		Expect(reportRec.Header().Get("Content-Type")).To(Equal("application/json"))

		var rep scan.ComplianceReport
		Expect(json.Unmarshal(reportRec.Body.Bytes(), &rep)).To(Succeed())
		Expect(rep.ScanID).To(Equal(jobID))
	})

	It("should reject malformed submissions", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should reject unknown connections with 400", func() {
		rec := do(http.MethodPost, "/api/v1/scans", map[string]string{"connectionId": "nope"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should return 404 for unknown jobs", func() {
		rec := do(http.MethodGet, "/api/v1/scans/unknown-job", nil)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should return 400 for unsupported report formats", func() {
		rec := do(http.MethodPost, "/api/v1/scans", map[string]string{"connectionId": "appdb"})
		var accepted map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &accepted)).To(Succeed())
		jobID := accepted["jobId"]

		Eventually(func() scan.Phase {
			job, _ := orch.Status(jobID)
			return job.Phase
		}, 5*time.Second).Should(Equal(scan.PhaseCompleted))

		exportRec := do(http.MethodGet, "/api/v1/scans/"+jobID+"/report?format=xlsx", nil)
		Expect(exportRec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should list jobs", func() {
		rec := do(http.MethodGet, "/api/v1/scans", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var jobs []scan.Job
		Expect(json.Unmarshal(rec.Body.Bytes(), &jobs)).To(Succeed())
	})

	It("should cancel running jobs via DELETE", func() {
		rec := do(http.MethodPost, "/api/v1/scans", map[string]string{"connectionId": "appdb"})
		var accepted map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &accepted)).To(Succeed())

		cancelRec := do(http.MethodDelete, "/api/v1/scans/"+accepted["jobId"], nil)
		Expect(cancelRec.Code).To(Equal(http.StatusOK))
	})
})
