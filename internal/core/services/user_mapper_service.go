package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

type UserMapperService struct {
	repo   ports.UserRepository
	logger *logger.Logger
	now    func() time.Time
}

type UserMapperServiceConfig struct {
	Repository ports.UserRepository
	Logger     *logger.Logger
	Now        func() time.Time
}

func NewUserMapperService(cfg UserMapperServiceConfig) *UserMapperService {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &UserMapperService{repo: cfg.Repository, logger: cfg.Logger, now: now}
}

type MapUserInput struct {
	Platform         domain.Platform
	PlatformUserID   string
	NightshiftUserID string
	DisplayName      string
	Email            string
	Metadata         domain.JSONB
}

// DefaultUserID is the internal id assigned to an identity that has none.
func DefaultUserID(platform domain.Platform, platformUserID string) string {
	return fmt.Sprintf("user_%s_%s", platform, platformUserID)
}

// MapUser upserts the identity and returns the internal user id it maps to.
// Repeated calls for the same identity return the same id.
func (s *UserMapperService) MapUser(ctx context.Context, in MapUserInput) (string, error) {
	if in.Platform == "" || in.PlatformUserID == "" {
		return "", fmt.Errorf("%w: platform and platform user id are required", ErrUserInvalidInput)
	}
	userID := in.NightshiftUserID
	if userID == "" {
		userID = DefaultUserID(in.Platform, in.PlatformUserID)
	}
	now := s.now()
	user := &domain.PlatformUser{
		Platform:         in.Platform,
		PlatformUserID:   in.PlatformUserID,
		NightshiftUserID: userID,
		CreatedAt:        now,
		LastSeenAt:       now,
		Metadata:         in.Metadata,
	}
	if in.DisplayName != "" {
		user.DisplayName = strPtr(in.DisplayName)
	}
	if in.Email != "" {
		user.Email = strPtr(in.Email)
	}
	if err := s.repo.Upsert(ctx, user); err != nil {
		return "", fmt.Errorf("map user: %w", err)
	}

	stored, err := s.repo.GetByPlatformID(ctx, in.Platform, in.PlatformUserID)
	if err != nil {
		return "", fmt.Errorf("map user: %w", err)
	}
	if stored != nil {
		userID = stored.NightshiftUserID
	}
	s.logger.Infow("user_mapper_map_ok", "platform", in.Platform, "platform_user_id", in.PlatformUserID, "user_id", userID)
	return userID, nil
}

// GetNightshiftUser returns nil when the identity has never been seen.
func (s *UserMapperService) GetNightshiftUser(ctx context.Context, platform domain.Platform, platformUserID string) (*domain.PlatformUser, error) {
	return s.repo.GetByPlatformID(ctx, platform, platformUserID)
}

func (s *UserMapperService) UpdateLastSeen(ctx context.Context, platform domain.Platform, platformUserID string) error {
	return s.repo.TouchLastSeen(ctx, platform, platformUserID, s.now())
}

func (s *UserMapperService) ListPlatformUsers(ctx context.Context, userID string) ([]domain.PlatformUser, error) {
	return s.repo.ListByUser(ctx, userID)
}

// GrantPermission is idempotent.
func (s *UserMapperService) GrantPermission(ctx context.Context, userID, permission, grantedBy string) error {
	if userID == "" || permission == "" {
		return fmt.Errorf("%w: user id and permission are required", ErrUserInvalidInput)
	}
	perm := &domain.UserPermission{
		NightshiftUserID: userID,
		Permission:       permission,
		GrantedAt:        s.now(),
	}
	if grantedBy != "" {
		perm.GrantedBy = strPtr(grantedBy)
	}
	return s.repo.GrantPermission(ctx, perm)
}

func (s *UserMapperService) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return s.repo.HasPermission(ctx, userID, permission)
}

// QuotaUpdate carries the fields to change; nil fields keep their value.
type QuotaUpdate struct {
	MaxTasksPerDay     *int `json:"max_tasks_per_day,omitempty"`
	MaxTokensPerTask   *int `json:"max_tokens_per_task,omitempty"`
	MaxConcurrentTasks *int `json:"max_concurrent_tasks,omitempty"`
}

// SetQuota merges upd into the stored quota, starting from the defaults
// when the user has none.
func (s *UserMapperService) SetQuota(ctx context.Context, userID string, upd QuotaUpdate) (*domain.UserQuota, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	current, err := s.repo.GetQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	quota := domain.DefaultQuota(userID)
	if current != nil {
		quota = *current
	}
	if upd.MaxTasksPerDay != nil {
		quota.MaxTasksPerDay = *upd.MaxTasksPerDay
	}
	if upd.MaxTokensPerTask != nil {
		quota.MaxTokensPerTask = *upd.MaxTokensPerTask
	}
	if upd.MaxConcurrentTasks != nil {
		quota.MaxConcurrentTasks = *upd.MaxConcurrentTasks
	}
	quota.UpdatedAt = s.now()
	if err := s.repo.SaveQuota(ctx, &quota); err != nil {
		return nil, err
	}
	return &quota, nil
}

// GetQuota returns nil when no quota row exists.
func (s *UserMapperService) GetQuota(ctx context.Context, userID string) (*domain.UserQuota, error) {
	return s.repo.GetQuota(ctx, userID)
}

// EnsureUser resolves a message sender, registering it with the default quota
// on first contact and refreshing last-seen otherwise.
func (s *UserMapperService) EnsureUser(ctx context.Context, platform domain.Platform, platformUserID, displayName string) (string, error) {
	existing, err := s.repo.GetByPlatformID(ctx, platform, platformUserID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := s.UpdateLastSeen(ctx, platform, platformUserID); err != nil {
			s.logger.Warnw("user_mapper_touch_failed", "platform", platform, "platform_user_id", platformUserID, "error", err)
		}
		return existing.NightshiftUserID, nil
	}

	userID, err := s.MapUser(ctx, MapUserInput{
		Platform:       platform,
		PlatformUserID: platformUserID,
		DisplayName:    displayName,
	})
	if err != nil {
		return "", err
	}
	if _, err := s.SetQuota(ctx, userID, QuotaUpdate{}); err != nil {
		return "", err
	}
	s.logger.Infow("user_mapper_auto_register_ok", "platform", platform, "platform_user_id", platformUserID, "user_id", userID)
	return userID, nil
}
