package domain

import "time"

const (
	DefaultMaxTasksPerDay     = 10
	DefaultMaxTokensPerTask   = 100000
	DefaultMaxConcurrentTasks = 3
)

const PermissionAdmin = "admin"

// PlatformUser maps one external identity to one internal user. Several
// platform identities may share a NightshiftUserID.
type PlatformUser struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Platform         Platform  `gorm:"size:32;not null;uniqueIndex:idx_platform_users_identity" json:"platform"`
	PlatformUserID   string    `gorm:"size:255;not null;uniqueIndex:idx_platform_users_identity" json:"platform_user_id"`
	NightshiftUserID string    `gorm:"column:nightshift_user_id;size:255;not null;index" json:"nightshift_user_id"`
	DisplayName      *string   `gorm:"size:255" json:"display_name,omitempty"`
	Email            *string   `gorm:"size:255" json:"email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	Metadata         JSONB     `gorm:"type:text" json:"metadata,omitempty"`
}

func (PlatformUser) TableName() string { return "platform_users" }

type UserPermission struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	NightshiftUserID string    `gorm:"column:nightshift_user_id;size:255;not null;uniqueIndex:idx_user_permissions_grant" json:"nightshift_user_id"`
	Permission       string    `gorm:"size:64;not null;uniqueIndex:idx_user_permissions_grant" json:"permission"`
	GrantedAt        time.Time `json:"granted_at"`
	GrantedBy        *string   `gorm:"size:255" json:"granted_by,omitempty"`
}

func (UserPermission) TableName() string { return "user_permissions" }

type UserQuota struct {
	NightshiftUserID   string    `gorm:"column:nightshift_user_id;primaryKey;size:255" json:"nightshift_user_id"`
	MaxTasksPerDay     int       `gorm:"not null" json:"max_tasks_per_day"`
	MaxTokensPerTask   int       `gorm:"not null" json:"max_tokens_per_task"`
	MaxConcurrentTasks int       `gorm:"not null" json:"max_concurrent_tasks"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (UserQuota) TableName() string { return "user_quotas" }

func DefaultQuota(userID string) UserQuota {
	return UserQuota{
		NightshiftUserID:   userID,
		MaxTasksPerDay:     DefaultMaxTasksPerDay,
		MaxTokensPerTask:   DefaultMaxTokensPerTask,
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
	}
}
