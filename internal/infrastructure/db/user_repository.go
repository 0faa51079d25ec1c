package db

import (
	"context"
	"errors"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepository(db *gorm.DB, log *logger.Logger) ports.UserRepository {
	return &userRepository{db: db, log: log}
}

// Upsert inserts the identity or, on (platform, platform_user_id) conflict,
// refreshes its display fields, last-seen time and metadata. The internal
// user id of an existing row is never rewritten.
func (r *userRepository) Upsert(ctx context.Context, user *domain.PlatformUser) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "platform_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "last_seen_at", "metadata"}),
	}).Create(user).Error
	if err != nil {
		r.log.Errorw("user_repo_upsert_failed", "platform", user.Platform, "platform_user_id", user.PlatformUserID, "error", err)
		return err
	}
	r.log.Debugw("user_repo_upsert_ok", "platform", user.Platform, "platform_user_id", user.PlatformUserID)
	return nil
}

func (r *userRepository) GetByPlatformID(ctx context.Context, platform domain.Platform, platformUserID string) (*domain.PlatformUser, error) {
	var user domain.PlatformUser
	err := r.db.WithContext(ctx).
		Where("platform = ? AND platform_user_id = ?", platform, platformUserID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("user_repo_get_failed", "platform", platform, "platform_user_id", platformUserID, "error", err)
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) TouchLastSeen(ctx context.Context, platform domain.Platform, platformUserID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.PlatformUser{}).
		Where("platform = ? AND platform_user_id = ?", platform, platformUserID).
		Update("last_seen_at", at).Error
	if err != nil {
		r.log.Errorw("user_repo_touch_failed", "platform", platform, "platform_user_id", platformUserID, "error", err)
	}
	return err
}

func (r *userRepository) ListByUser(ctx context.Context, nightshiftUserID string) ([]domain.PlatformUser, error) {
	var users []domain.PlatformUser
	if err := r.db.WithContext(ctx).Where("nightshift_user_id = ?", nightshiftUserID).Order("id ASC").Find(&users).Error; err != nil {
		r.log.Errorw("user_repo_list_failed", "user_id", nightshiftUserID, "error", err)
		return nil, err
	}
	return users, nil
}

func (r *userRepository) GrantPermission(ctx context.Context, perm *domain.UserPermission) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(perm).Error
	if err != nil {
		r.log.Errorw("user_repo_grant_failed", "user_id", perm.NightshiftUserID, "permission", perm.Permission, "error", err)
		return err
	}
	r.log.Infow("user_repo_grant_ok", "user_id", perm.NightshiftUserID, "permission", perm.Permission)
	return nil
}

func (r *userRepository) HasPermission(ctx context.Context, nightshiftUserID, permission string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.UserPermission{}).
		Where("nightshift_user_id = ? AND permission = ?", nightshiftUserID, permission).
		Count(&n).Error
	if err != nil {
		r.log.Errorw("user_repo_has_permission_failed", "user_id", nightshiftUserID, "error", err)
		return false, err
	}
	return n > 0, nil
}

func (r *userRepository) GetQuota(ctx context.Context, nightshiftUserID string) (*domain.UserQuota, error) {
	var quota domain.UserQuota
	if err := r.db.WithContext(ctx).Where("nightshift_user_id = ?", nightshiftUserID).First(&quota).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("user_repo_get_quota_failed", "user_id", nightshiftUserID, "error", err)
		return nil, err
	}
	return &quota, nil
}

func (r *userRepository) SaveQuota(ctx context.Context, quota *domain.UserQuota) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "nightshift_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_tasks_per_day", "max_tokens_per_task", "max_concurrent_tasks", "updated_at"}),
	}).Create(quota).Error
	if err != nil {
		r.log.Errorw("user_repo_save_quota_failed", "user_id", quota.NightshiftUserID, "error", err)
		return err
	}
	r.log.Infow("user_repo_save_quota_ok", "user_id", quota.NightshiftUserID)
	return nil
}
