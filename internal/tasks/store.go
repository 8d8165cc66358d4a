package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"aide/internal/models"
)

var (
	// ErrNotFound is returned when a task is not found.
	ErrNotFound = errors.New("task not found")
	// ErrCancelled is returned when updating a task that has been cancelled.
	ErrCancelled = errors.New("task already cancelled")
)

// Open opens the sqlite database at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite serializes writers; a single connection also keeps ":memory:" databases intact.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Task{}, &models.Message{}, &models.HealthRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Query selects tasks. Zero fields are ignored.
type Query struct {
	TaskIDs       []string
	Senders       []string
	Status        models.TaskStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Store persists tasks and inbound messages.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new task store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// InsertTask saves a new task.
func (s *Store) InsertTask(ctx context.Context, task *models.Task) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// FindTask retrieves a task by its id.
func (s *Store) FindTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "task_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

// FindTasks retrieves the tasks matching q, oldest first.
func (s *Store) FindTasks(ctx context.Context, q Query) ([]*models.Task, error) {
	tx := s.db.WithContext(ctx).Model(&models.Task{})
	if len(q.TaskIDs) > 0 {
		tx = tx.Where("task_id IN ?", q.TaskIDs)
	}
	if len(q.Senders) > 0 {
		tx = tx.Where("sender IN ?", q.Senders)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if !q.CreatedAfter.IsZero() {
		tx = tx.Where("created_at >= ?", q.CreatedAfter)
	}
	if !q.CreatedBefore.IsZero() {
		tx = tx.Where("created_at < ?", q.CreatedBefore)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var found []*models.Task
	if err := tx.Order("created_at").Find(&found).Error; err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	return found, nil
}

// UpdateStatus sets the status of a task and, when eventID is not empty, the
// id of its calendar event. Only those columns are written. A cancelled task
// never changes again.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, eventID string) error {
	fields := map[string]any{"status": status}
	if eventID != "" {
		fields["event_id"] = eventID
	}

	result := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("task_id = ? AND status <> ?", id, models.StatusCancelled).
		Updates(fields)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	task, err := s.FindTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == models.StatusCancelled && status != models.StatusCancelled {
		return fmt.Errorf("%w: %s", ErrCancelled, id)
	}
	return nil
}

// SaveMessage stores an inbound message unless one with the same message or
// email id exists. It reports whether the message was new.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	var count int64
	lookup := s.db.WithContext(ctx).Model(&models.Message{})
	switch {
	case msg.MessageID != "":
		lookup = lookup.Where("message_id = ?", msg.MessageID)
	case msg.EmailID != "":
		lookup = lookup.Where("email_id = ?", msg.EmailID)
	default:
		lookup = nil
	}
	if lookup != nil {
		if err := lookup.Count(&count).Error; err != nil {
			return false, fmt.Errorf("failed to look up message: %w", err)
		}
		if count > 0 {
			return false, nil
		}
	}

	msg.Processed = true
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	return true, nil
}

// RecentMessages returns the messages from any of senders since the given
// time. No senders means every sender.
func (s *Store) RecentMessages(ctx context.Context, senders []string, since time.Time) ([]*models.Message, error) {
	tx := s.db.WithContext(ctx).Where("timestamp >= ?", since)
	if len(senders) > 0 {
		tx = tx.Where("sender IN ?", senders)
	}
	var found []*models.Message
	err := tx.Order("timestamp").Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	return found, nil
}

// SaveHealth stores rec, replacing the metrics of an existing record for the same day.
func (s *Store) SaveHealth(ctx context.Context, rec *models.HealthRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"flights_climbed", "active_energy", "basal_energy_burned", "step_count",
			"walking_running_distance", "headphone_audio_exposure", "walking_step_length",
			"walking_speed", "walking_asymmetry_percentage", "walking_double_support_percentage",
			"heart_rate", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save health record: %w", err)
	}
	return nil
}

// HealthRecords returns the records for the days in [from, to], oldest first.
// Days are formatted as YYYY-MM-DD.
func (s *Store) HealthRecords(ctx context.Context, from, to string) ([]*models.HealthRecord, error) {
	var found []*models.HealthRecord
	err := s.db.WithContext(ctx).
		Where("day >= ? AND day <= ?", from, to).
		Order("day").
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find health records: %w", err)
	}
	return found, nil
}
