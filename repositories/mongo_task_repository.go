package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/models"
)

type TaskRepository interface {
	FindByID(ctx context.Context, id string) (*models.TaskDocument, error)
	Create(ctx context.Context, task *models.TaskDocument) (string, error)
	UpdateStatus(ctx context.Context, id, status string, update models.TaskUpdate) error
	Subscribe(ctx context.Context, id string) (models.TaskSubscription, error)
}

type MongoTaskRepository struct {
	coll *mongo.Collection
}

func NewMongoTaskRepository(coll *mongo.Collection) *MongoTaskRepository {
	return &MongoTaskRepository{coll: coll}
}

// ConnectMongo opens a client and verifies the deployment is reachable.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

func parseTaskID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", domain.ErrInvalidTaskID, id)
	}
	return oid, nil
}

func (r *MongoTaskRepository) FindByID(ctx context.Context, id string) (*models.TaskDocument, error) {
	oid, err := parseTaskID(id)
	if err != nil {
		return nil, err
	}

	var task models.TaskDocument
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task %s: %w", id, err)
	}
	return &task, nil
}

// Create inserts a task, filling in its id, timestamps and initial status.
func (r *MongoTaskRepository) Create(ctx context.Context, task *models.TaskDocument) (string, error) {
	now := models.EpochSeconds(time.Now())
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusNew
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, task); err != nil {
		return "", fmt.Errorf("failed to insert task: %w", err)
	}
	return task.ID.Hex(), nil
}

func (r *MongoTaskRepository) UpdateStatus(ctx context.Context, id, status string, update models.TaskUpdate) error {
	oid, err := parseTaskID(id)
	if err != nil {
		return err
	}

	set := bson.M{
		"status":    status,
		"updatedAt": models.EpochSeconds(time.Now()),
	}
	if update.Score != nil {
		set["score"] = *update.Score
	}
	if update.Summary != nil {
		set["summary"] = *update.Summary
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

// Subscribe opens a change stream restricted to one task document.
func (r *MongoTaskRepository) Subscribe(ctx context.Context, id string) (models.TaskSubscription, error) {
	oid, err := parseTaskID(id)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: oid},
			{Key: "operationType", Value: bson.M{"$in": bson.A{"insert", "update", "replace"}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := r.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch task %s: %w", id, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &changeStreamSubscription{
		stream:  stream,
		changes: make(chan models.TaskDocument),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(streamCtx)
	return sub, nil
}

type changeStreamSubscription struct {
	stream  *mongo.ChangeStream
	changes chan models.TaskDocument
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

type taskChangeEvent struct {
	FullDocument *models.TaskDocument `bson:"fullDocument"`
}

func (s *changeStreamSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.changes)

	for s.stream.Next(ctx) {
		var ev taskChangeEvent
		if err := s.stream.Decode(&ev); err != nil {
			s.setErr(fmt.Errorf("failed to decode task change: %w", err))
			return
		}
		// The document can be gone by the time the update is looked up.
		if ev.FullDocument == nil {
			continue
		}
		select {
		case s.changes <- *ev.FullDocument:
		case <-ctx.Done():
			return
		}
	}
	if err := s.stream.Err(); err != nil && ctx.Err() == nil {
		s.setErr(fmt.Errorf("task change stream failed: %w", err))
	}
}

func (s *changeStreamSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *changeStreamSubscription) Changes() <-chan models.TaskDocument {
	return s.changes
}

func (s *changeStreamSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *changeStreamSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.stream.Close(closeCtx); err != nil {
			slog.Debug("Failed to close task change stream", "error", err)
			s.closeErr = err
		}
	})
	return s.closeErr
}
