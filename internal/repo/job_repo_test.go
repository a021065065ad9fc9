package repo_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docpipe/internal/model"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
	"github.com/xxxsen/docpipe/internal/repo"
	"github.com/xxxsen/docpipe/internal/testutil"
)

func seedDocument(t *testing.T, docs *repo.DocumentRepo, id, userID string) *model.Document {
	t.Helper()
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:          id,
		UserID:      userID,
		ContentHash: "hash-" + id,
		MimeType:    "text/plain",
		ByteSize:    10,
		RawPath:     "raw/" + userID + "/" + id,
		Status:      model.DocStatusUploaded,
		Ctime:       now,
		Mtime:       now,
	}
	require.NoError(t, docs.Create(context.Background(), doc))
	return doc
}

func TestJobRepoLifecycle(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, 0)
	require.NoError(t, err)

	claimed, err := jobs.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, jobID, claimed[0].ID)
	require.Equal(t, model.JobStatusRunning, claimed[0].Status)

	// Already claimed, nothing due.
	again, err := jobs.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	ok, err := jobs.Complete(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)

	// Completing twice is a no-op.
	ok, err = jobs.Complete(ctx, jobID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobRepoCompleteAndEnqueueSuccessor(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	claimed, err := jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ok, nextID, err := jobs.CompleteAndEnqueue(ctx, jobID, "doc-1",
		model.JobTypeChunk, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, nextID)

	done, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCompleted, done.Status)
	next, err := jobs.Get(ctx, nextID)
	require.NoError(t, err)
	require.Equal(t, model.JobTypeChunk, next.Type)
	require.Equal(t, model.JobStatusQueued, next.Status)

	// Losing the completion CAS must not insert a successor either.
	ok, nextID, err = jobs.CompleteAndEnqueue(ctx, jobID, "doc-1",
		model.JobTypeEmbed, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, nextID)
	byStatus, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), byStatus[model.JobStatusQueued])
	require.Equal(t, int64(1), byStatus[model.JobStatusCompleted])
}

func TestJobRepoCompleteAndEnqueueWithoutSuccessor(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeFinalize, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	_, err = jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)

	ok, nextID, err := jobs.CompleteAndEnqueue(ctx, jobID, "doc-1", "", model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, nextID)

	byStatus, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), byStatus[model.JobStatusCompleted])
	require.Zero(t, byStatus[model.JobStatusQueued])
}

func TestJobRepoEnqueueUsesConfiguredMaxRetries(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 5)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, 0)
	require.NoError(t, err)

	job, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 5, job.MaxRetries)
}

func TestJobRepoDelayedJobNotDue(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	_, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, time.Hour)
	require.NoError(t, err)

	claimed, err := jobs.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestJobRepoFailRetrySchedule(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	claimed, err := jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	before := timeutil.NowUnix()
	status, err := jobs.Fail(ctx, jobID, "upstream timeout", true)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusRetrying, status)

	job, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, "upstream timeout", job.ErrorMessage)
	require.GreaterOrEqual(t, job.ScheduledAt, before+60)

	// Failing a job that is not running reports its current status and
	// changes nothing.
	status, err = jobs.Fail(ctx, jobID, "again", true)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusRetrying, status)
}

func TestJobRepoNonRetryableFailsImmediately(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	_, err = jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)

	status, err := jobs.Fail(ctx, jobID, "bad input", false)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusFailed, status)

	job, err := jobs.Get(ctx, jobID)
	require.NoError(t, err)
	require.Zero(t, job.RetryCount)
}

func TestJobRepoCorrelationAndWake(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeParse, model.JobPayload{}, 0, time.Hour)
	require.NoError(t, err)
	require.NoError(t, jobs.UpdatePayload(ctx, jobID,
		model.JobPayload{ExternalJobID: "ext-42"}, false))

	found, err := jobs.FindByCorrelation(ctx, "ext-42")
	require.NoError(t, err)
	require.Equal(t, jobID, found.ID)

	_, err = jobs.FindByCorrelation(ctx, "ext-unknown")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	// Waking pulls the delayed job forward so it is claimable now.
	require.NoError(t, jobs.UpdatePayload(ctx, jobID,
		model.JobPayload{ExternalJobID: "ext-42", ExternalDone: true}, true))
	claimed, err := jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.True(t, claimed[0].Payload.ExternalDone)
}

func TestJobRepoNoDoubleClaim(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	const totalJobs = 20
	for i := 0; i < totalJobs; i++ {
		docID := fmt.Sprintf("doc-%d", i)
		seedDocument(t, docs, docID, "user-1")
		_, err := jobs.Enqueue(ctx, docID, model.JobTypeParse, model.JobPayload{}, 0, 0)
		require.NoError(t, err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := jobs.ClaimDue(ctx, 3)
				require.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, job := range claimed {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, totalJobs)
	for jobID, count := range seen {
		require.Equal(t, 1, count, "job %s claimed %d times", jobID, count)
	}
}

func TestJobRepoStuckSweepQueries(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	docs := repo.NewDocumentRepo(conn)
	jobs := repo.NewJobRepo(conn, 0)
	seedDocument(t, docs, "doc-1", "user-1")

	jobID, err := jobs.Enqueue(ctx, "doc-1", model.JobTypeEmbed, model.JobPayload{}, 0, 0)
	require.NoError(t, err)
	claimed, err := jobs.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	stuck, err := jobs.ListStuck(ctx, timeutil.NowUnix()+1)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, jobID, stuck[0].ID)

	count, err := jobs.CountStuck(ctx, timeutil.NowUnix()+1)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	byStatus, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), byStatus[model.JobStatusRunning])
}
