package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

type AuthMethod string

const (
	AuthMethodAPIKey            AuthMethod = "api_key"
	AuthMethodOAuth2            AuthMethod = "oauth2"
	AuthMethodJWT               AuthMethod = "jwt"
	AuthMethodPlatformSignature AuthMethod = "platform_signature"
)

// SlackTimestampTolerance bounds how old a signed Slack request may be.
const SlackTimestampTolerance = 5 * time.Minute

// Credentials carries whatever the caller extracted from the request. Only
// the fields relevant to the chosen method are read.
type Credentials struct {
	APIKey      string
	AccessToken string
	JWTToken    string
	Platform    string
	Signature   string
	Timestamp   string
	Body        []byte
}

// AuthResult is the outcome of one authentication attempt. Err is nil on
// success and one of the ErrAuth* sentinels (or ErrNotImplemented) otherwise.
type AuthResult struct {
	Success  bool
	UserID   string
	Platform string
	Err      error
	Metadata map[string]string
}

func (r AuthResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func authFailure(err error) AuthResult {
	return AuthResult{Err: err}
}

type Authenticator struct {
	apiKeys         map[string]string
	platformSecrets map[string]string
	logger          *logger.Logger
	now             func() time.Time
}

type AuthenticatorConfig struct {
	Auth   config.AuthConfig
	Logger *logger.Logger
	// Now overrides the clock used for replay checks.
	Now func() time.Time
}

func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	keys := make(map[string]string, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		if k.Key != "" {
			keys[k.Key] = k.UserID
		}
	}
	secrets := make(map[string]string, len(cfg.Auth.PlatformSecrets))
	for p, s := range cfg.Auth.PlatformSecrets {
		secrets[strings.ToLower(p)] = s
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Authenticator{apiKeys: keys, platformSecrets: secrets, logger: log, now: now}
}

func (a *Authenticator) Authenticate(creds Credentials, method AuthMethod) AuthResult {
	var res AuthResult
	switch method {
	case AuthMethodAPIKey:
		res = a.authenticateAPIKey(creds.APIKey)
	case AuthMethodOAuth2:
		res = a.authenticateToken(creds.AccessToken, "oauth2")
	case AuthMethodJWT:
		res = a.authenticateToken(creds.JWTToken, "jwt")
	case AuthMethodPlatformSignature:
		res = a.VerifyPlatformSignature(creds)
	default:
		res = authFailure(fmt.Errorf("%w: %s", ErrAuthUnknownMethod, method))
	}
	if !res.Success {
		a.logger.Warnw("auth_failed", "method", method, "platform", creds.Platform, "error", res.ErrorMessage())
	}
	return res
}

func (a *Authenticator) authenticateAPIKey(key string) AuthResult {
	if key == "" {
		return authFailure(ErrAuthMissingCredentials)
	}
	userID, ok := a.apiKeys[key]
	if !ok {
		return authFailure(ErrAuthInvalidAPIKey)
	}
	return AuthResult{Success: true, UserID: userID, Metadata: map[string]string{"auth_method": string(AuthMethodAPIKey)}}
}

func (a *Authenticator) authenticateToken(token, kind string) AuthResult {
	if token == "" {
		return authFailure(ErrAuthMissingCredentials)
	}
	return authFailure(fmt.Errorf("%w: %s token validation", ErrNotImplemented, kind))
}

// VerifyPlatformSignature checks a webhook against the scheme of
// creds.Platform. Required fields are checked before any comparison.
func (a *Authenticator) VerifyPlatformSignature(creds Credentials) AuthResult {
	platform := strings.ToLower(creds.Platform)
	if platform == "" {
		return authFailure(ErrAuthMissingCredentials)
	}

	var verify func(secret string, creds Credentials) error
	needsTimestamp := false
	switch platform {
	case "slack":
		verify, needsTimestamp = a.verifySlack, true
	case "whatsapp":
		verify = verifyWhatsApp
	case "telegram":
		verify = verifyTelegram
	case "discord":
		needsTimestamp = true
	default:
		return authFailure(fmt.Errorf("%w: %s", ErrAuthUnknownPlatform, platform))
	}

	if creds.Signature == "" || (needsTimestamp && creds.Timestamp == "") {
		return authFailure(ErrAuthMissingCredentials)
	}
	if platform == "discord" {
		return AuthResult{Platform: platform, Err: verifyDiscord("", creds)}
	}
	secret := a.platformSecrets[platform]
	if secret == "" {
		return authFailure(fmt.Errorf("%w: %s", ErrAuthNoSecret, platform))
	}
	if err := verify(secret, creds); err != nil {
		return AuthResult{Platform: platform, Err: err}
	}
	return AuthResult{
		Success:  true,
		Platform: platform,
		Metadata: map[string]string{"auth_method": string(AuthMethodPlatformSignature)},
	}
}

// Slack signs "v0:<timestamp>:<body>" and sends "v0=<hex hmac>".
func (a *Authenticator) verifySlack(secret string, creds Credentials) error {
	ts, err := strconv.ParseInt(creds.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrAuthInvalidSignature)
	}
	age := a.now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(SlackTimestampTolerance/time.Second) {
		return ErrAuthStaleTimestamp
	}
	expected := SlackSignature(secret, creds.Timestamp, creds.Body)
	if !hmac.Equal([]byte(expected), []byte(creds.Signature)) {
		return ErrAuthInvalidSignature
	}
	return nil
}

// SlackSignature computes the v0 signature header value for a request.
func SlackSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// WhatsAppSignature computes the sha256= signature over the raw body.
func WhatsAppSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verifyWhatsApp(secret string, creds Credentials) error {
	expected := WhatsAppSignature(secret, creds.Body)
	if !hmac.Equal([]byte(expected), []byte(creds.Signature)) {
		return ErrAuthInvalidSignature
	}
	return nil
}

// Telegram sends the configured secret token verbatim.
func verifyTelegram(secret string, creds Credentials) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(creds.Signature)) != 1 {
		return ErrAuthInvalidSignature
	}
	return nil
}

// Discord signs timestamp+body with Ed25519; not supported yet.
func verifyDiscord(string, Credentials) error {
	return fmt.Errorf("%w: discord signature verification", ErrNotImplemented)
}
