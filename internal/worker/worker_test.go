package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
	"github.com/cuongbtq/dvt-pipeline/internal/report"
	"github.com/cuongbtq/dvt-pipeline/internal/validation"
	"github.com/cuongbtq/dvt-pipeline/shared/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceBucket = "uploads"
	targetBucket = "results"
)

type fixture struct {
	jobs       *jobstore.MemoryStore
	queue      *queue.MemoryQueue
	source     *blobstore.MemoryStore
	target     *blobstore.MemoryStore
	writer     *report.Writer
	stagingDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	target := blobstore.NewMemoryStore()
	return &fixture{
		jobs:       jobstore.NewMemoryStore(),
		queue:      queue.NewMemoryQueue(),
		source:     blobstore.NewMemoryStore(),
		target:     target,
		writer:     report.NewWriter(target, targetBucket, "", logger.NewDiscard()),
		stagingDir: t.TempDir(),
	}
}

func (f *fixture) worker(p Processor, maxReceive int) *Worker {
	return NewWorker(&Config{
		Logger:          logger.NewDiscard(),
		Jobs:            f.jobs,
		Queue:           f.queue,
		Source:          f.source,
		Processor:       p,
		SourceBucket:    sourceBucket,
		Lease:           time.Minute,
		IdleSleep:       time.Millisecond,
		MaxReceiveCount: maxReceive,
		StagingDir:      f.stagingDir,
	})
}

func (f *fixture) validationWorker(maxReceive int) *Worker {
	return f.worker(NewValidationProcessor(f.jobs, validation.DefaultEngine(), f.writer, logger.NewDiscard()), maxReceive)
}

// upload stores content, creates the pending job and returns its id
func (f *fixture) upload(t *testing.T, key, content string) string {
	t.Helper()
	ctx := context.Background()

	version, err := f.source.Put(ctx, sourceBucket, key, strings.NewReader(content))
	require.NoError(t, err)

	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(ctx, domain.NewPendingJob(id, key, version, time.Now())))
	return id
}

func (f *fixture) enqueue(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.queue.Send(context.Background(), id, nil, 0))
}

func (f *fixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorker_NoHeaderAndInvalidColumn(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "bad.csv", "1col,abc\n5,xyz\n6,uvw\n")
	f.enqueue(t, id)

	processed, err := f.validationWorker(0).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job := f.job(t, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.GreaterOrEqual(t, job.Errors, 2)
	assert.Equal(t, 0, job.Warnings)
	require.NotNil(t, job.ResultURI)
	assert.Equal(t, "blob://results/validation/"+id+".csv", *job.ResultURI)
	require.NotNil(t, job.EndTS)

	artifact := string(f.target.Bytes(targetBucket, report.ValidationKey(id)))
	assert.True(t, strings.HasPrefix(artifact, "type,message\n"))
	assert.Contains(t, artifact, "error,File has no headers\n")
	assert.Contains(t, artifact, "error,Column name <1col> is not valid\n")

	assert.Equal(t, 0, f.queue.Len())
	f.assertStagingEmpty(t)
}

func TestWorker_CleanFile(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "clean.csv", "id,name,price\n1,apple,0.5\n2,pear,0.75\n")
	f.enqueue(t, id)

	_, err := f.validationWorker(0).RunOnce(context.Background())
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, domain.JobStatusSuccess, job.Status)
	assert.Equal(t, 0, job.Warnings)
	assert.Equal(t, 0, job.Errors)
	assert.Nil(t, job.ResultURI)
	require.NotNil(t, job.EndTS)
	assert.Nil(t, f.target.Bytes(targetBucket, report.ValidationKey(id)))
	assert.Equal(t, 0, f.queue.Len())
}

func TestWorker_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	w := f.validationWorker(0)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	assert.Greater(t, f.queue.Receives, 1)
	assert.Equal(t, 0, f.jobs.Calls)
	assert.Equal(t, 0, f.source.Gets)
	assert.Equal(t, 0, f.target.Puts)
}

func TestWorker_RedeliveryAfterCompletion(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "bad.csv", "1col,abc\n5,xyz\n6,uvw\n")
	f.enqueue(t, id)
	w := f.validationWorker(0)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	first := f.job(t, id)
	puts := f.target.Puts

	f.enqueue(t, id)
	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	second := f.job(t, id)
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, first.EndTS, second.EndTS)
	assert.Equal(t, puts, f.target.Puts)
	assert.Equal(t, 0, f.queue.Len())
}

// racingStore lets another worker finish the job right after it is loaded.
type racingStore struct {
	*jobstore.MemoryStore
	once sync.Once
}

func (s *racingStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.MemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		_, err = s.MemoryStore.Update(ctx, id, domain.TerminalUpdate(domain.JobStatusFailed, 0, 7, "", time.Now()))
	})
	return job, err
}

func TestWorker_ConcurrentCompletionIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "clean.csv", "id,name\n1,ab\n2,cd\n")
	f.enqueue(t, id)

	store := &racingStore{MemoryStore: f.jobs}
	w := NewWorker(&Config{
		Logger:       logger.NewDiscard(),
		Jobs:         store,
		Queue:        f.queue,
		Source:       f.source,
		Processor:    NewValidationProcessor(store, validation.DefaultEngine(), f.writer, logger.NewDiscard()),
		SourceBucket: sourceBucket,
		StagingDir:   f.stagingDir,
	})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 7, job.Errors)
	assert.Equal(t, 0, f.queue.Len())
}

func TestWorker_InfrastructureFailureLeavesMessage(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(context.Background(), domain.NewPendingJob(id, "gone.csv", "v000404", time.Now())))
	f.enqueue(t, id)

	processed, err := f.validationWorker(0).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, processed)
	assert.True(t, domain.IsRetryable(err))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.Equal(t, domain.JobStatusPending, f.job(t, id).Status)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 0, f.queue.Deletes)
	f.assertStagingEmpty(t)
}

// releasingQueue hands failed messages back immediately, like RabbitQueue.
type releasingQueue struct {
	*queue.MemoryQueue
	released []string
}

func (q *releasingQueue) Release(ctx context.Context, receiptHandle string) error {
	q.released = append(q.released, receiptHandle)
	return nil
}

func TestWorker_FailedIterationReleasesMessage(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(context.Background(), domain.NewPendingJob(id, "gone.csv", "v000404", time.Now())))
	f.enqueue(t, id)

	q := &releasingQueue{MemoryQueue: f.queue}
	w := NewWorker(&Config{
		Logger:       logger.NewDiscard(),
		Jobs:         f.jobs,
		Queue:        q,
		Source:       f.source,
		Processor:    NewValidationProcessor(f.jobs, validation.DefaultEngine(), f.writer, logger.NewDiscard()),
		SourceBucket: sourceBucket,
		Lease:        time.Minute,
		StagingDir:   f.stagingDir,
	})

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, q.released, 1)
	assert.Equal(t, f.queue.Messages()[0].ReceiptHandle, q.released[0])
	assert.Equal(t, 0, f.queue.Deletes)

	// A successful iteration acknowledges without releasing.
	id2 := f.upload(t, "clean.csv", "id,name,price\n1,apple,0.5\n2,pear,0.75\n")
	f.enqueue(t, id2)

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, q.released, 1)
	assert.Equal(t, domain.JobStatusSuccess, f.job(t, id2).Status)
}

func TestWorker_MissingJobLeavesMessage(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "no-such-job")

	_, err := f.validationWorker(0).RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.Equal(t, 1, f.queue.Len())
}

func TestWorker_MaxReceiveCount(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(context.Background(), domain.NewPendingJob(id, "gone.csv", "v000404", time.Now())))
	f.enqueue(t, id)

	now := time.Now()
	f.queue.SetClock(func() time.Time { return now })
	recorder := &abandonRecorder{
		Processor: NewValidationProcessor(f.jobs, validation.DefaultEngine(), f.writer, logger.NewDiscard()),
	}
	w := f.worker(recorder, 1)

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)

	now = now.Add(2 * time.Minute)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 0, job.Errors)
	assert.Nil(t, job.ResultURI)
	assert.Equal(t, 0, f.queue.Len())
	assert.ErrorIs(t, recorder.cause, domain.ErrMaxReceivesExceeded)
	assert.Contains(t, recorder.cause.Error(), "received 2 times, limit 1")
}

type abandonRecorder struct {
	Processor
	cause error
}

func (r *abandonRecorder) Abandon(ctx context.Context, job *domain.Job, cause error) error {
	r.cause = cause
	return r.Processor.Abandon(ctx, job, cause)
}

func TestWorker_UnboundedRedeliveryByDefault(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(context.Background(), domain.NewPendingJob(id, "gone.csv", "v000404", time.Now())))
	f.enqueue(t, id)

	now := time.Now()
	f.queue.SetClock(func() time.Time { return now })
	w := f.validationWorker(0)

	for i := 0; i < 5; i++ {
		_, err := w.RunOnce(context.Background())
		require.Error(t, err)
		now = now.Add(2 * time.Minute)
	}
	assert.Equal(t, domain.JobStatusPending, f.job(t, id).Status)
	assert.Equal(t, 1, f.queue.Len())
}

func TestWorker_LeaseHidesMessage(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()
	require.NoError(t, f.jobs.Create(context.Background(), domain.NewPendingJob(id, "gone.csv", "v000404", time.Now())))
	f.enqueue(t, id)
	w := f.validationWorker(0)

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed, "message stays hidden until its lease expires")
}

func TestWorker_MalformedMessageIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Send(context.Background(), "  ", nil, 0))

	processed, err := f.validationWorker(0).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 0, f.jobs.Calls)
}

type failingRule struct{}

func (failingRule) Name() string { return "broken" }

func (failingRule) Validate(context.Context, validation.Input) (validation.Result, error) {
	return validation.Result{}, errors.New("unexpected input shape")
}

func TestWorker_RuleFaultLeavesMessage(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "clean.csv", "id\n1\n")
	f.enqueue(t, id)

	engine := validation.NewEngine(validation.NewHeaderRule(), failingRule{})
	w := f.worker(NewValidationProcessor(f.jobs, engine, f.writer, logger.NewDiscard()), 0)

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule broken")
	assert.Equal(t, domain.JobStatusPending, f.job(t, id).Status)
	assert.Equal(t, 1, f.queue.Len())
	f.assertStagingEmpty(t)
}

func TestPool_ProcessesAllJobs(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 6; i++ {
		id := f.upload(t, "file.csv", "id,name\n1,ab\n2,cd\n")
		f.enqueue(t, id)
		ids = append(ids, id)
	}

	pool := NewPool(3, logger.NewDiscard(), func(int) *Worker { return f.validationWorker(0) })
	assert.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, id := range ids {
		assert.Equal(t, domain.JobStatusSuccess, f.job(t, id).Status)
	}
}
