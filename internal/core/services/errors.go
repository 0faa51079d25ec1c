package services

import "errors"

// Task errors
var (
	ErrTaskNotFound     = errors.New("task: not found")
	ErrTaskInvalidInput = errors.New("task: invalid input")
	ErrTaskNotStaged    = errors.New("task: not in staged state")
	ErrTaskConflict     = errors.New("task: state changed concurrently")
	ErrQuotaExceeded    = errors.New("task: quota exceeded")
)

// Auth errors
var (
	ErrAuthMissingCredentials = errors.New("auth: missing credentials")
	ErrAuthInvalidAPIKey      = errors.New("auth: invalid api key")
	ErrAuthInvalidSignature   = errors.New("auth: invalid signature")
	ErrAuthStaleTimestamp     = errors.New("auth: timestamp outside tolerance window")
	ErrAuthNoSecret           = errors.New("auth: no secret configured for platform")
	ErrAuthUnknownPlatform    = errors.New("auth: unknown platform")
	ErrAuthUnknownMethod      = errors.New("auth: unknown method")
	ErrNotImplemented         = errors.New("auth: not implemented")
)

// User errors
var (
	ErrUserInvalidInput = errors.New("user: invalid input")
)

// Trigger errors
var (
	ErrPlatformNotEnabled     = errors.New("trigger: platform not enabled")
	ErrPlatformNotImplemented = errors.New("trigger: platform not implemented")
	ErrWebhookRejected        = errors.New("trigger: webhook validation failed")
	ErrPayloadInvalid         = errors.New("trigger: invalid payload")
	ErrUnknownMessageType     = errors.New("trigger: unknown message type")
)
