package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/queue"
	"github.com/maltedev/amazon-rank-scraper/internal/runner"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Factory builds the coordinator for a job. progress must be among the sinks
// the coordinator writes to so the job can report keyword progress.
type Factory func(loc *locale.Locale, maxProducts int, progress storage.Sink) (*runner.Coordinator, error)

// Job is one queued run request and, once processed, its outcome.
type Job struct {
	ID            string             `json:"id"`
	Country       string             `json:"country"`
	Keywords      []string           `json:"keywords"`
	MaxProducts   int                `json:"max_products"`
	Status        Status             `json:"status"`
	KeywordsDone  int                `json:"keywords_done"`
	ProductsFound int                `json:"products_found"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Error         string             `json:"error,omitempty"`
	Summary       *models.RunSummary `json:"summary,omitempty"`
	Result        *models.RunResult  `json:"result,omitempty"`
}

type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	QueueSize     int     `json:"queue_size"`
	TotalProducts int     `json:"total_products"`
	SuccessRate   float64 `json:"success_rate"`
}

// Manager accepts run requests and executes them one at a time, so runs
// against the marketplace never overlap.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	queue   queue.Queue
	factory Factory
	logger  *slog.Logger
}

func NewManager(q queue.Queue, factory Factory, logger *slog.Logger) *Manager {
	return &Manager{
		jobs:    make(map[string]*Job),
		queue:   q,
		factory: factory,
		logger:  logger.With("component", "job_manager"),
	}
}

// CreateJob validates and queues a run request.
func (m *Manager) CreateJob(ctx context.Context, country string, keywords []string, maxProducts int) (*Job, error) {
	country = strings.ToLower(strings.TrimSpace(country))
	if _, err := locale.Lookup(country); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: at least one keyword is required", ErrInvalidJob)
	}
	if maxProducts < 0 {
		return nil, fmt.Errorf("%w: max_products must not be negative", ErrInvalidJob)
	}

	job := &Job{
		ID:          uuid.New().String(),
		Country:     country,
		Keywords:    cleaned,
		MaxProducts: maxProducts,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:          job.ID,
		Country:     job.Country,
		Keywords:    job.Keywords,
		MaxProducts: job.MaxProducts,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "country", country, "keywords", len(cleaned))
	return m.snapshot(job, false), nil
}

// GetJob returns a job including its result.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job, true), nil
}

// ListJobs returns up to limit jobs, newest first, without results.
func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job, false))
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueueSize: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		stats.TotalProducts += job.ProductsFound
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}

	return stats, nil
}

func (m *Manager) snapshot(job *Job, withResult bool) *Job {
	cp := *job
	cp.Keywords = append([]string(nil), job.Keywords...)
	if !withResult {
		cp.Result = nil
	}
	return &cp
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}

// progressSink feeds keyword results back into the job record.
type progressSink struct {
	manager *Manager
	jobID   string
}

func (p *progressSink) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	p.manager.update(p.jobID, func(job *Job) {
		job.KeywordsDone++
		job.ProductsFound += run.Total
	})
	return nil
}

func (p *progressSink) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	return nil
}

func (p *progressSink) Close() error {
	return nil
}
