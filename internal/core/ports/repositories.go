package ports

import (
	"context"
	"time"

	"github.com/nightshift/backend/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, taskID string) (*domain.Task, error)
	List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error)
	// Transition moves the task to fields["status"] only when its current
	// status is one of from. It returns the number of rows affected.
	Transition(ctx context.Context, taskID string, from []domain.TaskStatus, fields map[string]interface{}) (int64, error)
	CountSubmittedSince(ctx context.Context, userID string, since time.Time) (int64, error)
	CountActive(ctx context.Context, userID string) (int64, error)

	AddLog(ctx context.Context, entry *domain.TaskLog) error
	GetLogs(ctx context.Context, taskID string, afterID uint) ([]domain.TaskLog, error)
}

type UserRepository interface {
	Upsert(ctx context.Context, user *domain.PlatformUser) error
	GetByPlatformID(ctx context.Context, platform domain.Platform, platformUserID string) (*domain.PlatformUser, error)
	TouchLastSeen(ctx context.Context, platform domain.Platform, platformUserID string, at time.Time) error
	ListByUser(ctx context.Context, nightshiftUserID string) ([]domain.PlatformUser, error)

	GrantPermission(ctx context.Context, perm *domain.UserPermission) error
	HasPermission(ctx context.Context, nightshiftUserID, permission string) (bool, error)

	GetQuota(ctx context.Context, nightshiftUserID string) (*domain.UserQuota, error)
	SaveQuota(ctx context.Context, quota *domain.UserQuota) error
}
