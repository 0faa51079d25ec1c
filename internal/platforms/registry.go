package platforms

import (
	"fmt"
	"net/http"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// New builds the handler for one platform tag.
func New(p domain.Platform, cfg config.PlatformsConfig, auth *services.Authenticator, client *http.Client, log *logger.Logger) (ports.PlatformHandler, error) {
	switch p {
	case domain.PlatformSlack:
		return NewSlackHandler(cfg.Slack, auth, client, log.Named("slack")), nil
	case domain.PlatformTelegram:
		return NewTelegramHandler(cfg.Telegram, auth, client, log.Named("telegram")), nil
	case domain.PlatformWhatsApp, domain.PlatformDiscord:
		return nil, fmt.Errorf("%w: %s", services.ErrPlatformNotImplemented, p)
	}
	return nil, fmt.Errorf("unknown platform %q", p)
}

// Enabled builds a handler for every platform switched on in cfg.
func Enabled(cfg config.PlatformsConfig, auth *services.Authenticator, log *logger.Logger) ([]ports.PlatformHandler, error) {
	var out []ports.PlatformHandler
	enabled := map[domain.Platform]bool{
		domain.PlatformSlack:    cfg.Slack.Enabled,
		domain.PlatformTelegram: cfg.Telegram.Enabled,
	}
	for _, p := range []domain.Platform{domain.PlatformSlack, domain.PlatformTelegram} {
		if !enabled[p] {
			continue
		}
		h, err := New(p, cfg, auth, nil, log)
		if err != nil {
			return nil, err
		}
		log.Infow("platform_enabled", "platform", p)
		out = append(out, h)
	}
	return out, nil
}
