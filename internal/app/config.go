package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/allocation/internal/consumer"
	"github.com/yungbote/allocation/internal/data/db"
	"github.com/yungbote/allocation/internal/observability"
	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/envutil"
	"github.com/yungbote/allocation/internal/platform/redisbus"
	"github.com/yungbote/allocation/internal/platform/sendgrid"
	"github.com/yungbote/allocation/internal/services/allocation"
)

// DriverMemory keeps all state in process. Nothing survives a restart.
const DriverMemory = "memory"

type Config struct {
	HTTPAddr    string
	LogMode     string
	CORSOrigins []string

	DB db.Config

	Redis                 redisbus.Config
	AllocatedChannel      string
	ChangeQuantityChannel string

	SendGrid            sendgrid.Config
	OutOfStockRecipient string

	Otel           observability.OtelConfig
	MetricsEnabled bool
}

// configFile is the optional YAML overlay named by ALLOCATION_CONFIG.
// Environment variables win over file values.
type configFile struct {
	HTTP struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`
	Database struct {
		Driver     string `yaml:"driver"`
		URL        string `yaml:"url"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		Addr                  string `yaml:"addr"`
		AllocatedChannel      string `yaml:"allocated_channel"`
		ChangeQuantityChannel string `yaml:"change_quantity_channel"`
	} `yaml:"redis"`
	Notifications struct {
		OutOfStockRecipient string `yaml:"out_of_stock_recipient"`
		FromEmail           string `yaml:"from_email"`
	} `yaml:"notifications"`
	Telemetry struct {
		ServiceName string `yaml:"service_name"`
		Endpoint    string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg := Config{
		HTTPAddr:              envutil.String("HTTP_ADDR", ":8080"),
		LogMode:               envutil.String("LOG_MODE", "development"),
		CORSOrigins:           splitList(envutil.String("CORS_ORIGINS", "")),
		DB:                    db.ConfigFromEnv(),
		Redis:                 redisbus.ConfigFromEnv(),
		AllocatedChannel:      envutil.String("REDIS_ALLOCATED_CHANNEL", allocation.DefaultAllocatedChannel),
		ChangeQuantityChannel: envutil.String("REDIS_CHANGE_QUANTITY_CHANNEL", consumer.DefaultChangeQuantityChannel),
		SendGrid:              sendgrid.ConfigFromEnv(),
		OutOfStockRecipient:   envutil.String("OUT_OF_STOCK_RECIPIENT", ""),
		Otel:                  observability.OtelConfigFromEnv(),
		MetricsEnabled:        observability.Enabled(),
	}
	if path := envutil.String("SQLITE_PATH", ""); path != "" && cfg.DB.DSN == "" {
		cfg.DB.DSN = sqliteDSN(path)
	}

	path := envutil.String("ALLOCATION_CONFIG", "")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyFile(f)
	log.Info("config file loaded", "path", path)
	return cfg, nil
}

func (c *Config) applyFile(f configFile) {
	overlay(&c.HTTPAddr, "HTTP_ADDR", f.HTTP.Addr)
	if len(f.HTTP.CORSOrigins) > 0 && !isSet("CORS_ORIGINS") {
		c.CORSOrigins = f.HTTP.CORSOrigins
	}
	if v := strings.ToLower(strings.TrimSpace(f.Database.Driver)); v != "" && !isSet("DB_DRIVER") {
		c.DB.Driver = v
	}
	overlay(&c.DB.DSN, "DATABASE_URL", f.Database.URL)
	if f.Database.SQLitePath != "" && c.DB.DSN == "" && !isSet("SQLITE_PATH") {
		c.DB.DSN = sqliteDSN(f.Database.SQLitePath)
	}
	overlay(&c.Redis.Addr, "REDIS_ADDR", f.Redis.Addr)
	overlay(&c.AllocatedChannel, "REDIS_ALLOCATED_CHANNEL", f.Redis.AllocatedChannel)
	overlay(&c.ChangeQuantityChannel, "REDIS_CHANGE_QUANTITY_CHANNEL", f.Redis.ChangeQuantityChannel)
	overlay(&c.OutOfStockRecipient, "OUT_OF_STOCK_RECIPIENT", f.Notifications.OutOfStockRecipient)
	overlay(&c.SendGrid.DefaultFromEmail, "SENDGRID_FROM_EMAIL", f.Notifications.FromEmail)
	overlay(&c.Otel.ServiceName, "OTEL_SERVICE_NAME", f.Telemetry.ServiceName)
	overlay(&c.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", f.Telemetry.Endpoint)
}

func overlay(dst *string, envKey, fileVal string) {
	fileVal = strings.TrimSpace(fileVal)
	if fileVal == "" || isSet(envKey) {
		return
	}
	*dst = fileVal
}

func isSet(key string) bool {
	v, ok := os.LookupEnv(key)
	return ok && strings.TrimSpace(v) != ""
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000", path)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
