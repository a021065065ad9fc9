package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/parser"
	"github.com/xxxsen/docpipe/internal/pkg/backoff"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocs(docs ...*model.Document) *memDocs {
	m := &memDocs{docs: make(map[string]*model.Document)}
	for _, doc := range docs {
		cp := *doc
		m.docs[doc.ID] = &cp
	}
	return m
}

func (m *memDocs) Get(ctx context.Context, documentID string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memDocs) UpdateStatusIf(ctx context.Context, documentID string, from, to model.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	doc.Mtime = timeutil.NowUnix()
	return true, nil
}

func (m *memDocs) SetParsedIf(ctx context.Context, documentID, parsedHash, parsedPath string, from, to model.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.ParsedHash = parsedHash
	doc.ParsedPath = parsedPath
	doc.Status = to
	return true, nil
}

func (m *memDocs) MarkFailed(ctx context.Context, documentID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return appErr.ErrNotFound
	}
	if doc.Status == model.DocStatusComplete || doc.Status == model.DocStatusFailed {
		return nil
	}
	doc.Status = model.DocStatusFailed
	doc.ErrorMessage = errMsg
	return nil
}

type memJobs struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*model.Job

	completeErr   error
	failCompletes int
	completes     int
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*model.Job)}
}

func (m *memJobs) Enqueue(ctx context.Context, documentID string, jobType model.JobType,
	payload model.JobPayload, priority int, delay time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("job-%d", m.seq)
	now := timeutil.NowUnix()
	m.jobs[id] = &model.Job{
		ID:          id,
		DocumentID:  documentID,
		Type:        jobType,
		Status:      model.JobStatusQueued,
		Priority:    priority,
		MaxRetries:  backoff.DefaultMaxRetries,
		ScheduledAt: now + int64(delay/time.Second),
		Payload:     payload,
		Ctime:       now,
	}
	return id, nil
}

func (m *memJobs) ClaimDue(ctx context.Context, capacity int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := timeutil.NowUnix()
	var claimed []*model.Job
	for _, job := range m.jobs {
		if len(claimed) >= capacity {
			break
		}
		if (job.Status == model.JobStatusQueued || job.Status == model.JobStatusRetrying) && job.ScheduledAt <= now {
			job.Status = model.JobStatusRunning
			job.StartedAt = now
			cp := *job
			claimed = append(claimed, &cp)
		}
	}
	return claimed, nil
}

func (m *memJobs) Complete(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.Status = model.JobStatusCompleted
	job.CompletedAt = timeutil.NowUnix()
	return true, nil
}

func (m *memJobs) CompleteAndEnqueue(ctx context.Context, jobID string, documentID string,
	nextType model.JobType, payload model.JobPayload, priority int, delay time.Duration) (bool, string, error) {
	m.mu.Lock()
	m.completes++
	if m.completeErr != nil && m.completes <= m.failCompletes {
		m.mu.Unlock()
		return false, "", m.completeErr
	}
	job, ok := m.jobs[jobID]
	if !ok || job.Status != model.JobStatusRunning {
		m.mu.Unlock()
		return false, "", nil
	}
	job.Status = model.JobStatusCompleted
	job.CompletedAt = timeutil.NowUnix()
	m.mu.Unlock()
	if nextType == "" {
		return true, "", nil
	}
	id, err := m.Enqueue(ctx, documentID, nextType, payload, priority, delay)
	return true, id, err
}

func (m *memJobs) Fail(ctx context.Context, jobID string, errMsg string, retryable bool) (model.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", appErr.ErrNotFound
	}
	if job.Status != model.JobStatusRunning {
		return job.Status, nil
	}
	job.ErrorMessage = errMsg
	if retryable && job.RetryCount < job.MaxRetries {
		job.Status = model.JobStatusRetrying
		job.ScheduledAt = timeutil.NowUnix() + int64(backoff.Delay(job.RetryCount)/time.Second)
		job.RetryCount++
	} else {
		job.Status = model.JobStatusFailed
	}
	return job.Status, nil
}

func (m *memJobs) UpdatePayload(ctx context.Context, jobID string, payload model.JobPayload, wake bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return appErr.ErrNotFound
	}
	job.Payload = payload
	if wake && (job.Status == model.JobStatusQueued || job.Status == model.JobStatusRetrying) {
		job.ScheduledAt = timeutil.NowUnix()
	}
	return nil
}

func (m *memJobs) get(jobID string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	if job == nil {
		return nil
	}
	cp := *job
	return &cp
}

// rewind makes a backed-off job claimable again without waiting.
func (m *memJobs) rewind(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job := m.jobs[jobID]; job != nil {
		job.ScheduledAt = timeutil.NowUnix()
	}
}

// requeue mimics the stuck sweep: a running job goes back to retrying
// and is immediately claimable.
func (m *memJobs) requeue(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job := m.jobs[jobID]; job != nil && job.Status == model.JobStatusRunning {
		job.Status = model.JobStatusRetrying
		job.ScheduledAt = timeutil.NowUnix()
	}
}

func (m *memJobs) byType(jobType model.JobType) []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, job := range m.jobs {
		if job.Type == jobType {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out
}

type memChunks struct {
	mu     sync.Mutex
	chunks map[string]*model.Chunk
}

func newMemChunks() *memChunks {
	return &memChunks{chunks: make(map[string]*model.Chunk)}
}

func (m *memChunks) UpsertBatch(ctx context.Context, chunks []*model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		if _, ok := m.chunks[chunk.ID]; ok {
			continue
		}
		cp := *chunk
		m.chunks[chunk.ID] = &cp
	}
	return nil
}

func (m *memChunks) ListMissingEmbedding(ctx context.Context, documentID string, limit int) ([]*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Chunk
	for _, chunk := range m.chunks {
		if len(out) >= limit {
			break
		}
		if chunk.DocumentID == documentID && chunk.Embedding == nil {
			cp := *chunk
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memChunks) SaveEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return appErr.ErrNotFound
	}
	if chunk.Embedding == nil {
		chunk.Embedding = embedding
	}
	return nil
}

func (m *memChunks) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, chunk := range m.chunks {
		if chunk.DocumentID == documentID {
			count++
		}
	}
	return count, nil
}

func (m *memChunks) missing(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, chunk := range m.chunks {
		if chunk.DocumentID == documentID && chunk.Embedding == nil {
			count++
		}
	}
	return count
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte

	putErr       error
	failPutsLeft int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPutsLeft > 0 && m.putErr != nil {
		m.failPutsLeft--
		return m.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// fakeParser resolves every submission to the same text immediately, or
// fails the first failSubmits submissions with the configured error.
// When lost is set it behaves like a backend that forgot its results.
type fakeParser struct {
	mu          sync.Mutex
	text        string
	submitErr   error
	failSubmits int
	submits     int
	lost        bool
}

func (p *fakeParser) setLost(lost bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = lost
}

func (p *fakeParser) Submit(ctx context.Context, raw []byte, mimeType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if p.submitErr != nil && p.submits <= p.failSubmits {
		return "", p.submitErr
	}
	return fmt.Sprintf("ext-%d", p.submits), nil
}

func (p *fakeParser) Status(ctx context.Context, externalJobID string) (parser.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lost {
		return parser.StateError, appErr.ErrNotFound
	}
	return parser.StateDone, nil
}

func (p *fakeParser) Result(ctx context.Context, externalJobID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lost {
		return "", appErr.ErrNotFound
	}
	return p.text, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (e *fakeEmbedder) ModelName() string {
	return "fake-embedding"
}

type recordingNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *recordingNotifier) DocumentComplete(ctx context.Context, doc *model.Document) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, doc.ID)
}
