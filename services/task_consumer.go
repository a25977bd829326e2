package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/ckwflash/LiveHack2025/domain"
)

const (
	MaxBatchSize   = 10
	FlushInterval  = 1 * time.Second
	SQSMaxMessages = 10
	SQSWaitSeconds = 20
)

type MessageQueue interface {
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32, waitTime int32) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, queueURL string, entries []types.DeleteMessageBatchRequestEntry) error
}

type TaskProcessor interface {
	ProcessTask(ctx context.Context, taskID string) error
}

// TaskConsumer pulls task messages off the queue and runs them with bounded
// concurrency. Handled messages are deleted in batches.
type TaskConsumer struct {
	queue       MessageQueue
	queueURL    string
	processor   TaskProcessor
	concurrency int
	backoff     time.Duration
}

type ConsumerOption func(*TaskConsumer)

func WithMessageQueue(q MessageQueue, queueURL string) ConsumerOption {
	return func(c *TaskConsumer) {
		c.queue = q
		c.queueURL = queueURL
	}
}

func WithTaskProcessor(p TaskProcessor) ConsumerOption {
	return func(c *TaskConsumer) { c.processor = p }
}

func WithConcurrency(n int) ConsumerOption {
	return func(c *TaskConsumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithReceiveBackoff(d time.Duration) ConsumerOption {
	return func(c *TaskConsumer) { c.backoff = d }
}

func NewTaskConsumer(opts ...ConsumerOption) *TaskConsumer {
	c := &TaskConsumer{concurrency: 4, backoff: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled, then lets in-flight tasks finish and
// flushes pending deletes before returning.
func (c *TaskConsumer) Run(ctx context.Context) {
	deletes := make(chan types.Message, c.concurrency*2)
	deleterDone := make(chan struct{})
	go func() {
		defer close(deleterDone)
		c.batchDeleter(deletes)
	}()

	workCtx := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)

	for ctx.Err() == nil {
		out, err := c.queue.ReceiveMessages(ctx, c.queueURL, SQSMaxMessages, SQSWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("Failed to receive task messages", "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range out.Messages {
			msg := msg
			g.Go(func() error {
				if c.handle(workCtx, msg) {
					deletes <- msg
				}
				return nil
			})
		}
	}

	slog.Info("Task consumer stopping, waiting for in-flight tasks")
	_ = g.Wait()
	close(deletes)
	<-deleterDone
}

// handle reports whether the message is finished with and can be deleted.
func (c *TaskConsumer) handle(ctx context.Context, msg types.Message) bool {
	if msg.Body == nil {
		return true
	}
	var body domain.TaskMessage
	if err := json.Unmarshal([]byte(*msg.Body), &body); err != nil || body.TaskID == "" {
		slog.Error("Dropping malformed task message", "body", *msg.Body, "error", err)
		return true
	}

	err := c.processor.ProcessTask(ctx, body.TaskID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrInvalidTaskID):
		slog.Warn("Dropping message for unknown task", "task_id", body.TaskID, "error", err)
		return true
	default:
		slog.Error("Task failed, leaving message for redelivery", "task_id", body.TaskID, "error", err)
		return false
	}
}

func (c *TaskConsumer) batchDeleter(deletes <-chan types.Message) {
	var batch []types.DeleteMessageBatchRequestEntry
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.queue.DeleteMessageBatch(context.Background(), c.queueURL, batch); err != nil {
			slog.Error("Failed to delete message batch", "size", len(batch), "error", err)
		}
		batch = nil
	}

	for {
		select {
		case msg, ok := <-deletes:
			if !ok {
				flush()
				return
			}
			batch = append(batch, types.DeleteMessageBatchRequestEntry{
				Id:            msg.MessageId,
				ReceiptHandle: msg.ReceiptHandle,
			})
			if len(batch) >= MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
