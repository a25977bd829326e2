package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/identity"
	"github.com/ckwflash/LiveHack2025/metrics"
	"github.com/ckwflash/LiveHack2025/models"
	"github.com/ckwflash/LiveHack2025/pagetext"
)

type TaskRepository interface {
	FindByID(ctx context.Context, id string) (*models.TaskDocument, error)
	Create(ctx context.Context, task *models.TaskDocument) (string, error)
	UpdateStatus(ctx context.Context, id, status string, update models.TaskUpdate) error
}

type QueueClient interface {
	SendMessage(ctx context.Context, queueURL string, msg interface{}) error
}

type PayloadArchive interface {
	ArchivePayload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

type Processor interface {
	Process(ctx context.Context, rawURL, rawText string, weights domain.Weights) (*domain.PersonalizedResult, error)
}

// TaskService owns the asynchronous analysis path: the API creates and
// enqueues tasks, the worker drives them to done or error.
type TaskService struct {
	tasks     TaskRepository
	queue     QueueClient
	queueURL  string
	archive   PayloadArchive
	bucket    string
	processor Processor
}

type TaskOption func(*TaskService)

func WithTaskRepository(r TaskRepository) TaskOption {
	return func(s *TaskService) { s.tasks = r }
}

func WithTaskQueue(q QueueClient, queueURL string) TaskOption {
	return func(s *TaskService) {
		s.queue = q
		s.queueURL = queueURL
	}
}

func WithPayloadArchive(a PayloadArchive, bucket string) TaskOption {
	return func(s *TaskService) {
		s.archive = a
		s.bucket = bucket
	}
}

func WithProcessor(p Processor) TaskOption {
	return func(s *TaskService) { s.processor = p }
}

func NewTaskService(opts ...TaskOption) *TaskService {
	s := &TaskService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask stores a new task and hands it to the worker queue.
func (s *TaskService) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*models.TaskDocument, error) {
	if _, err := identity.Resolve(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidIdentity, err)
	}

	task := &models.TaskDocument{
		ID:          primitive.NewObjectID(),
		ProductName: req.ProductName,
		Brand:       req.Brand,
		Price:       optional(req.Price),
		URL:         optional(req.URL),
		RawHTML:     optional(req.RawHTML),
		Status:      domain.TaskStatusNew,
		Metadata:    req.Metadata,
	}
	if task.Metadata == nil {
		task.Metadata = map[string]interface{}{}
	}

	if s.archive != nil && s.bucket != "" && req.RawHTML != "" {
		key := fmt.Sprintf("tasks/%s/%s.html", task.ID.Hex(), uuid.NewString())
		path, err := s.archive.ArchivePayload(ctx, s.bucket, key, []byte(req.RawHTML), "text/html; charset=utf-8")
		if err != nil {
			slog.Warn("Failed to archive task payload", "task_id", task.ID.Hex(), "error", err)
		} else {
			task.Metadata["raw_html_archive"] = path
		}
	}

	id, err := s.tasks.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}

	if err := s.queue.SendMessage(ctx, s.queueURL, domain.TaskMessage{TaskID: id}); err != nil {
		summary := "Failed to queue task"
		if uErr := s.tasks.UpdateStatus(ctx, id, domain.TaskStatusError, models.TaskUpdate{Summary: &summary}); uErr != nil {
			slog.Error("Failed to mark unqueued task as error", "task_id", id, "error", uErr)
		}
		return nil, fmt.Errorf("failed to enqueue task %s: %w", id, err)
	}

	slog.Info("Task created", "task_id", id, "url", req.URL)
	return task, nil
}

// ProcessTask runs one queued task. Analysis failures end the task in the
// error state and are not returned; only failures to record progress are,
// so the message is redelivered.
func (s *TaskService) ProcessTask(ctx context.Context, taskID string) error {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if task.IsTerminal() {
		slog.Info("Skipping finished task", "task_id", taskID, "status", task.Status)
		return nil
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusProcessing, models.TaskUpdate{}); err != nil {
		return err
	}

	result, err := s.analyze(ctx, task)
	if errors.Is(err, domain.ErrPersistenceFailed) {
		// Left in processing; the redelivered message runs it again.
		return fmt.Errorf("failed to process task %s: %w", taskID, err)
	}
	if err != nil {
		slog.Error("Task analysis failed", "task_id", taskID, "error", err)
		metrics.TasksProcessed.WithLabelValues(domain.TaskStatusError).Inc()
		summary := err.Error()
		return s.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusError, models.TaskUpdate{Summary: &summary})
	}

	score := result.SustainabilityScore
	summary := summarize(result)
	if err := s.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusDone, models.TaskUpdate{Score: &score, Summary: &summary}); err != nil {
		return err
	}
	metrics.TasksProcessed.WithLabelValues(domain.TaskStatusDone).Inc()
	slog.Info("Task done", "task_id", taskID, "score", score, "cache_hit", result.CacheHit)
	return nil
}

func (s *TaskService) analyze(ctx context.Context, task *models.TaskDocument) (*domain.PersonalizedResult, error) {
	if task.URL == nil {
		return nil, fmt.Errorf("%w: task has no product url", domain.ErrInvalidIdentity)
	}

	text := describe(task)
	if task.RawHTML != nil && *task.RawHTML != "" {
		pageText, err := pagetext.Extract(*task.RawHTML)
		if err != nil {
			slog.Warn("Falling back to task fields for analysis text", "task_id", task.ID.Hex(), "error", err)
		} else if pageText != "" {
			text = text + "\n" + pageText
		}
	}

	return s.processor.Process(ctx, *task.URL, text, nil)
}

// describe renders the structured task fields as the plain text header the
// analysis engine expects.
func describe(task *models.TaskDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", task.ProductName)
	fmt.Fprintf(&b, "Brand: %s\n", task.Brand)
	if task.Price != nil {
		fmt.Fprintf(&b, "Price: %s\n", *task.Price)
	}
	if task.URL != nil {
		fmt.Fprintf(&b, "URL: %s\n", *task.URL)
	}

	keys := make([]string, 0, len(task.Metadata))
	for k := range task.Metadata {
		if k == "raw_html_archive" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, task.Metadata[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarize(result *domain.PersonalizedResult) string {
	parts := make([]string, 0, len(domain.Dimensions))
	for _, dim := range domain.Dimensions {
		if entry, ok := result.Breakdown[dim]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", dim, entry.Rating))
		}
	}
	summary := fmt.Sprintf("%s scored %d/100", result.ProductName, result.SustainabilityScore)
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	return summary
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
