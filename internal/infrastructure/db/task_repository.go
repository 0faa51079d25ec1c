package db

import (
	"context"
	"errors"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{db: db, log: log}
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		r.log.Errorw("task_repo_create_failed", "task_id", task.TaskID, "error", err)
		return err
	}
	r.log.Debugw("task_repo_create_ok", "task_id", task.TaskID)
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("task_repo_get_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	var tasks []domain.Task
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_list_failed", "status", status, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) Transition(ctx context.Context, taskID string, from []domain.TaskStatus, fields map[string]interface{}) (int64, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("task_id = ? AND status IN ?", taskID, from).
		Updates(fields)
	if res.Error != nil {
		r.log.Errorw("task_repo_transition_failed", "task_id", taskID, "error", res.Error)
		return 0, res.Error
	}
	r.log.Debugw("task_repo_transition_ok", "task_id", taskID, "rows", res.RowsAffected)
	return res.RowsAffected, nil
}

func (r *taskRepository) CountSubmittedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("submitted_by = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	if err != nil {
		r.log.Errorw("task_repo_count_submitted_failed", "user_id", userID, "error", err)
		return 0, err
	}
	return n, nil
}

func (r *taskRepository) CountActive(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Where("submitted_by = ? AND status IN ?", userID,
			[]domain.TaskStatus{domain.TaskStatusCommitted, domain.TaskStatusRunning}).
		Count(&n).Error
	if err != nil {
		r.log.Errorw("task_repo_count_active_failed", "user_id", userID, "error", err)
		return 0, err
	}
	return n, nil
}

func (r *taskRepository) AddLog(ctx context.Context, entry *domain.TaskLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Errorw("task_repo_add_log_failed", "task_id", entry.TaskID, "error", err)
		return err
	}
	return nil
}

func (r *taskRepository) GetLogs(ctx context.Context, taskID string, afterID uint) ([]domain.TaskLog, error) {
	var logs []domain.TaskLog
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND id > ?", taskID, afterID).
		Order("id ASC").
		Find(&logs).Error
	if err != nil {
		r.log.Errorw("task_repo_get_logs_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	return logs, nil
}
