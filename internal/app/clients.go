package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/allocation/internal/notifications"
	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/redisbus"
	"github.com/yungbote/allocation/internal/platform/sendgrid"
)

type Clients struct {
	// Redis is nil when REDIS_ADDR is unset.
	Redis         *redisbus.Client
	Notifications notifications.Sender
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rc, err := redisbus.New(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		out.Redis = rc
	} else {
		log.Warn("REDIS_ADDR not set; external events disabled")
	}

	if strings.TrimSpace(cfg.SendGrid.APIKey) != "" {
		sg, err := sendgrid.New(log, cfg.SendGrid)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init sendgrid: %w", err)
		}
		out.Notifications = notifications.NewEmailSender(sg, log)
	} else {
		out.Notifications = notifications.NewLogSender(log)
	}
	return out, nil
}

func (c Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
