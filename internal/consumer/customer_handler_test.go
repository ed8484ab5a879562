package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/internal/consumer"
	"github.com/tigerroll/chunkflow/internal/domain/entity"
	"github.com/tigerroll/chunkflow/internal/migration"
	"github.com/tigerroll/chunkflow/internal/repository"
	"github.com/tigerroll/chunkflow/internal/step/processor"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	chunkKafka "github.com/tigerroll/chunkflow/pkg/batch/adapter/messaging/kafka"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// memoryRepo keeps saved customers in a map.
type memoryRepo struct {
	repository.CustomerRepository

	mu      sync.Mutex
	saved   map[int64]*entity.Customer
	calls   int
	failErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{saved: map[int64]*entity.Customer{}}
}

func (r *memoryRepo) SaveAll(ctx context.Context, customers []*entity.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failErr != nil {
		return r.failErr
	}
	for _, c := range customers {
		r.saved[c.ID] = c
	}
	return nil
}

func (r *memoryRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func message(t *testing.T, c *entity.Customer) kafka.Message {
	t.Helper()
	value, err := json.Marshal(c)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(c.Key()), Value: value}
}

func batchOfTen(t *testing.T) []kafka.Message {
	msgs := make([]kafka.Message, 0, 10)
	for i := int64(1); i <= 10; i++ {
		c := &entity.Customer{ID: i, FirstName: "first", LastName: "last", Email: fmt.Sprintf("c%d@example.com", i), Country: "JP"}
		if i == 5 {
			at, by := time.Now(), "elsewhere"
			c.ProcessedAt, c.ProcessedBy = &at, &by
		}
		msgs = append(msgs, message(t, c))
	}
	return msgs
}

func TestCustomerBatchHandler_IsolatesRecordFailures(t *testing.T) {
	repo := newMemoryRepo()
	h := consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil)

	result, err := h.Handle(context.Background(), batchOfTen(t))

	require.NoError(t, err)
	assert.Equal(t, consumer.BatchResult{Received: 10, Persisted: 9, Failed: 1}, result)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, 9, repo.size())
	_, ok := repo.saved[5]
	assert.False(t, ok)
}

func TestCustomerBatchHandler_UndecodableMessageIsDropped(t *testing.T) {
	repo := newMemoryRepo()
	h := consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil)

	msgs := []kafka.Message{{Key: []byte("x"), Value: []byte("{not json")}, message(t, &entity.Customer{ID: 7, FirstName: "a"})}
	result, err := h.Handle(context.Background(), msgs)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 1, result.Failed)
}

func TestCustomerBatchHandler_AllRecordsFailingSkipsSave(t *testing.T) {
	repo := newMemoryRepo()
	h := consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil)

	result, err := h.Handle(context.Background(), []kafka.Message{{Value: []byte("[]")}})

	require.NoError(t, err)
	assert.Equal(t, consumer.BatchResult{Received: 1, Failed: 1}, result)
	assert.Zero(t, repo.calls)
}

func TestCustomerBatchHandler_SaveFailureIsReported(t *testing.T) {
	repo := newMemoryRepo()
	repo.failErr = errors.New("database is locked")
	h := consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil)

	result, err := h.Handle(context.Background(), batchOfTen(t))

	assert.ErrorIs(t, err, exception.ErrSinkWrite)
	assert.Zero(t, result.Persisted)
}

// bus connects a producer and a single consumer listener through a channel.
type bus struct {
	ch chan kafka.Message

	mu        sync.Mutex
	committed int
}

func newBus() *bus { return &bus{ch: make(chan kafka.Message, 1000)} }

func (b *bus) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		b.ch <- m
	}
	return nil
}

func (b *bus) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-b.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (b *bus) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed += len(msgs)
	return nil
}

func (b *bus) Close() error { return nil }

func (b *bus) commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

func testConfig() *coreConfig.Config {
	cfg := coreConfig.NewConfig()
	cfg.Chunkflow.Consumer.MaxBatchSize = 4
	cfg.Chunkflow.Consumer.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestRunner_CommitsAfterPersisting(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newBus()
	require.NoError(t, b.WriteMessages(context.Background(), batchOfTen(t)...))
	repo := newMemoryRepo()
	runner := consumer.NewRunner(testConfig(), consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.RunWith(ctx, []chunkKafka.MessageReader{b}) }()
	require.Eventually(t, func() bool { return b.commits() == 10 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, 9, repo.size())
	for _, c := range repo.saved {
		require.NotNil(t, c.ProcessedBy)
		assert.Equal(t, "listener-1", *c.ProcessedBy)
	}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := coreConfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "customers.db")}
	for _, m := range migration.Migrators(nil, cfg) {
		require.NoError(t, m.Up(context.Background()))
	}
	db, err := gormadapter.Open(cfg, "ERROR")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestRoundTrip_PublishConsumePersist(t *testing.T) {
	ctx := context.Background()
	b := newBus()
	producer := chunkKafka.NewProducer(b, 3)
	sink := writer.NewKafkaWriter[*entity.Customer]("csv-to-kafka-step", producer, func(c *entity.Customer) string { return c.Key() })

	source := []*entity.Customer{
		{ID: 11, FirstName: "Ada", LastName: "Lovelace", Email: " ada@example.com ", Gender: "Female", ContactNo: "555-0100", Country: "UK", Dob: "10-12-1815"},
		{ID: 12, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com", Gender: "Male", ContactNo: "555-0101", Country: "UK", Dob: "23-06-1912"},
	}
	require.NoError(t, sink.Write(ctx, nil, source))

	repo := repository.NewCustomerRepository(openDB(t), nil)
	runner := consumer.NewRunner(testConfig(), consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil))
	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- runner.RunWith(runCtx, []chunkKafka.MessageReader{b}) }()
	require.Eventually(t, func() bool { return b.commits() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	for _, want := range source {
		got, err := repo.FindByID(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Country, got.Country)
		assert.Equal(t, want.Dob, got.Dob)
		assert.Equal(t, want.ContactNo, got.ContactNo)
		require.NotNil(t, got.ProcessedAt)
		require.NotNil(t, got.ProcessedBy)
		assert.Equal(t, "listener-1", *got.ProcessedBy)
	}

	processed, err := repo.CountProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), processed)

	// Redelivery of an already processed record is rejected by the transformer.
	stored, err := repo.FindByID(ctx, 11)
	require.NoError(t, err)
	h := consumer.NewCustomerBatchHandler("customers", processor.NewCustomerProcessor(), repo, nil)
	result, err := h.Handle(ctx, []kafka.Message{message(t, stored)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}
