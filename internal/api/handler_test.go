package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/internal/api"
	"github.com/tigerroll/chunkflow/internal/repository"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	coreJob "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	"github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type completingStep struct{}

func (completingStep) StepName() string { return "csv-to-kafka-step" }
func (completingStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsStarted()
	se.MarkAsCompleted()
	return nil
}

type countingRepo struct {
	repository.CustomerRepository
	total, processed int64
}

func (r countingRepo) Count(ctx context.Context) (int64, error)          { return r.total, nil }
func (r countingRepo) CountProcessed(ctx context.Context) (int64, error) { return r.processed, nil }

type fixture struct {
	server   *httptest.Server
	launcher *usecase.SimpleJobLauncher
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(coreConfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "api.db")}, "ERROR")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func newFixture(t *testing.T, ping api.Pinger) *fixture {
	t.Helper()
	repo := inmemory.NewInMemoryJobRepository()
	registry := coreJob.NewRegistry(coreJob.RegistryParams{Jobs: []port.Job{coreJob.NewSimpleJob("csvToKafkaJob", completingStep{})}})
	jobRunner := runner.NewSimpleJobRunner(repo, nil, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	launcher := usecase.NewSimpleJobLauncher(repo, registry, jobRunner)
	explorer := usecase.NewSimpleJobExplorer(repo)
	monitor := usecase.NewMonitoringService(explorer, usecase.NewDefaultJobOperator(repo, registry, launcher), repo)
	health := api.NewHealthChecker(openDB(t), []string{"localhost:9092"}, explorer, ping)

	h := api.NewHandler(monitor, launcher, countingRepo{total: 1000, processed: 998}, health, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = launcher.Shutdown(ctx)
	})
	return &fixture{server: srv, launcher: launcher}
}

func okPing(ctx context.Context, brokers []string) error { return nil }

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (f *fixture) launchAndAwait(t *testing.T, req api.LaunchRequest) usecase.JobExecutionSummary {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/jobs/csvToKafkaJob", req)
	require.Equal(t, http.StatusAccepted, status, string(body))
	var summary usecase.JobExecutionSummary
	require.NoError(t, json.Unmarshal(body, &summary))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.launcher.Await(ctx, summary.ExecutionID)
	require.NoError(t, err)
	return summary
}

func TestLaunchAndQuery(t *testing.T) {
	f := newFixture(t, okPing)
	summary := f.launchAndAwait(t, api.LaunchRequest{InputFile: "customers.csv", ChunkSize: 100})

	status, body := f.do(t, http.MethodGet, "/api/executions/"+summary.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)
	var got usecase.JobExecutionSummary
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "csvToKafkaJob", got.JobName)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)

	status, body = f.do(t, http.MethodGet, "/api/jobs/csvToKafkaJob/executions?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	var list []usecase.JobExecutionSummary
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	status, body = f.do(t, http.MethodGet, "/api/jobs/csvToKafkaJob/stats", nil)
	require.Equal(t, http.StatusOK, status)
	var stats usecase.JobStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
}

func TestControlPlaneErrorMapping(t *testing.T) {
	f := newFixture(t, okPing)
	req := api.LaunchRequest{Parameters: map[string]string{model.RunTimestampKey: "fixed"}}
	summary := f.launchAndAwait(t, req)

	status, _ := f.do(t, http.MethodPost, "/api/jobs/csvToKafkaJob", req)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/api/executions/"+summary.ExecutionID+"/restart", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/api/jobs/unknownJob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodGet, "/api/executions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodGet, "/api/executions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStopOnFinishedExecutionReportsFalse(t *testing.T) {
	f := newFixture(t, okPing)
	summary := f.launchAndAwait(t, api.LaunchRequest{})

	status, body := f.do(t, http.MethodPost, "/api/executions/"+summary.ExecutionID+"/stop", nil)
	require.Equal(t, http.StatusOK, status)
	var resp api.StopResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Stopped)
}

func TestEmptyQueriesReturnEmptyCollections(t *testing.T) {
	f := newFixture(t, okPing)

	status, body := f.do(t, http.MethodGet, "/api/executions/running", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body))

	status, body = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"totalJobs":0,"runningJobs":0}`, string(body))
}

func TestCustomerCount(t *testing.T) {
	f := newFixture(t, okPing)

	status, body := f.do(t, http.MethodGet, "/api/customers/count", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"total":1000,"processed":998}`, string(body))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, okPing)
	status, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	var report api.HealthReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, api.StatusUp, report.Status)
	assert.Equal(t, api.StatusUp, report.Components["db"].Status)

	down := newFixture(t, func(ctx context.Context, brokers []string) error { return errors.New("connection refused") })
	status, body = down.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, api.StatusDown, report.Status)
	assert.Equal(t, api.StatusDown, report.Components["kafka"].Status)
	assert.Equal(t, api.StatusUp, report.Components["batch"].Status)
}

func TestStatusCode(t *testing.T) {
	cases := map[error]int{
		exception.NewAlreadyRunningError("t", "x"):           http.StatusConflict,
		exception.NewAlreadyCompleteError("t", "x"):          http.StatusConflict,
		exception.NewNotRestartableError("t", "x"):           http.StatusConflict,
		exception.NewNotFoundError("t", "x", nil):            http.StatusNotFound,
		exception.NewInvalidArgumentError("t", "x"):          http.StatusBadRequest,
		fmt.Errorf("wrapped: %w", errors.New("disk full")): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.StatusCode(err), err.Error())
	}
}
