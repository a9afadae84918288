package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Engine EngineConfig
	Access AccessConfig
	Toggle ToggleConfig
	Redis  RedisConfig
	Server ServerConfig
	Log    LogConfig
}

// EngineConfig holds the client engine settings.
type EngineConfig struct {
	BaseURL        string        `envconfig:"DROPS_BASE_URL" default:"http://127.0.0.1:2412/api/drops"`
	StatePeriod    time.Duration `envconfig:"DROPS_STATE_PERIOD" default:"3500ms"`
	OnlinePeriod   time.Duration `envconfig:"DROPS_ONLINE_PERIOD" default:"30s"`
	RenderPeriod   time.Duration `envconfig:"DROPS_RENDER_PERIOD" default:"250ms"`
	HTTPTimeout    time.Duration `envconfig:"DROPS_HTTP_TIMEOUT" default:"10s"`
	DefaultEnabled bool          `envconfig:"DROPS_DEFAULT_ENABLED" default:"false"`
	ChestItemId    model.ItemId  `envconfig:"DROPS_CHEST_ITEM_ID" default:"1"`
	ChestPrice     float64       `envconfig:"DROPS_CHEST_PRICE" default:"100"`
	MonitorPeriod  time.Duration `envconfig:"DROPS_MONITOR_PERIOD" default:"5s"`
}

// AccessConfig holds the eligibility rules.
type AccessConfig struct {
	AllowedGroups []model.GroupId `envconfig:"ACCESS_ALLOWED_GROUPS" default:""`
	AdminGroups   []model.GroupId `envconfig:"ACCESS_ADMIN_GROUPS" default:"1"`
	AdminUsers    []model.UserId  `envconfig:"ACCESS_ADMIN_USERS" default:""`
	GuestGroup    model.GroupId   `envconfig:"ACCESS_GUEST_GROUP" default:"3"`
	AllowedForums []model.ForumId `envconfig:"ACCESS_ALLOWED_FORUMS" default:""`
}

// ToggleConfig holds the enabled flag persistence settings.
type ToggleConfig struct {
	Backend     string        `envconfig:"TOGGLE_BACKEND" default:"sqlite"` // memory, sqlite or redis
	Key         string        `envconfig:"TOGGLE_KEY" default:"drop_engine_enabled"`
	SQLitePath  string        `envconfig:"TOGGLE_SQLITE_PATH" default:"./data/toggle.db"`
	WatchPeriod time.Duration `envconfig:"TOGGLE_WATCH_PERIOD" default:"1s"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ServerConfig holds the sandbox server settings.
type ServerConfig struct {
	Port           int           `envconfig:"SERVER_PORT" default:"2412"`
	Path           string        `envconfig:"SERVER_PATH" default:"/api/drops"`
	SpawnPeriod    time.Duration `envconfig:"SERVER_SPAWN_PERIOD" default:"20s"`
	DropTTL        time.Duration `envconfig:"SERVER_DROP_TTL" default:"60s"`
	CatalogPath    string        `envconfig:"SERVER_CATALOG_PATH" default:"./data/catalog.json"`
	AllowedOrigins []string      `envconfig:"SERVER_ALLOWED_ORIGINS" default:"*"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Policy converts the access settings to an access.Policy.
func (a AccessConfig) Policy() access.Policy {
	return access.Policy{
		AllowedGroups: a.AllowedGroups,
		AdminGroups:   a.AdminGroups,
		AdminUsers:    a.AdminUsers,
		GuestGroup:    a.GuestGroup,
		AllowedForums: a.AllowedForums,
	}
}

// Address returns the Redis address in host:port format.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Address returns the sandbox listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
