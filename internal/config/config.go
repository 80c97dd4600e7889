package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Tracing     TracingConfig `mapstructure:"tracing"`
	Redis       RedisConfig
	Evaluator   EvaluatorConfig   `mapstructure:"evaluator"`
	Events      EventsConfig      `mapstructure:"events"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Progression ProgressionConfig `mapstructure:"progression"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool   `mapstructure:"-"` // 仅迁移模式（迁移后退出）
	ConfigFile   string `mapstructure:"-"` // 实际加载的配置文件路径
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // mysql / sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	Charset    string
	ParseTime  bool
	SQLitePath string `mapstructure:"sqlite_path"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

// EvaluatorConfig 开放题评判服务（OpenAI 兼容接口）
type EvaluatorConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c EvaluatorConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

type ProgressionConfig struct {
	LockWaitMillis       int `mapstructure:"lock_wait_ms"`
	LockTTLSeconds       int `mapstructure:"lock_ttl_seconds"`
	GradeCacheTTLSeconds int `mapstructure:"grade_cache_ttl_seconds"`
}

func (c ProgressionConfig) LockWait() time.Duration {
	if c.LockWaitMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.LockWaitMillis) * time.Millisecond
}

func (c ProgressionConfig) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c ProgressionConfig) GradeCacheTTL() time.Duration {
	if c.GradeCacheTTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.GradeCacheTTLSeconds) * time.Second
}

// CatalogConfig 课程目录与及格线策略表
type CatalogConfig struct {
	// 各难度默认及格线（百分比）
	QuizThresholds map[string]float64 `mapstructure:"quiz_thresholds"`
	// 按编程任务难度划分的及格线
	TaskThresholds map[string]float64 `mapstructure:"task_thresholds"`
	Courses        []CourseConfig     `mapstructure:"courses"`
}

type CourseConfig struct {
	ID    string       `mapstructure:"id"`
	Title string       `mapstructure:"title"`
	Weeks []WeekConfig `mapstructure:"weeks"`
}

type WeekConfig struct {
	Number int    `mapstructure:"number"`
	Title  string `mapstructure:"title"`
	// 覆盖该周各难度的及格线
	QuizThresholds map[string]float64 `mapstructure:"quiz_thresholds"`
	CodingTasks    []CodingTaskConfig `mapstructure:"coding_tasks"`
}

type CodingTaskConfig struct {
	ID         string `mapstructure:"id"`
	Title      string `mapstructure:"title"`
	Difficulty string `mapstructure:"difficulty"` // easy / medium / hard
	// 大于 0 时覆盖按难度取得的及格线
	PassingScore float64 `mapstructure:"passing_score"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PROGRESSION")
	v.AutomaticEnv()

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
	v.BindEnv("database.sqlite_path", "DATABASE_SQLITE_PATH")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// Evaluator
	v.BindEnv("evaluator.base_url", "EVALUATOR_BASE_URL")
	v.BindEnv("evaluator.api_key", "EVALUATOR_API_KEY")
	v.BindEnv("evaluator.model", "EVALUATOR_MODEL")

	// Events
	v.BindEnv("events.enabled", "EVENTS_ENABLED")
	v.BindEnv("events.amqp_url", "EVENTS_AMQP_URL")
	v.BindEnv("events.exchange", "EVENTS_EXCHANGE")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Catalog.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查课程目录的基本一致性
func (c CatalogConfig) Validate() error {
	seen := make(map[string]bool, len(c.Courses))
	for _, course := range c.Courses {
		if course.ID == "" {
			return fmt.Errorf("catalog: course id is required")
		}
		if seen[course.ID] {
			return fmt.Errorf("catalog: duplicate course id %q", course.ID)
		}
		seen[course.ID] = true

		// 任务 ID 在整个课程内唯一
		tasks := make(map[string]bool)
		for i, w := range course.Weeks {
			if w.Number != i+1 {
				return fmt.Errorf("catalog: course %q weeks must be numbered 1..n in order (got %d at position %d)", course.ID, w.Number, i+1)
			}
			for _, t := range w.CodingTasks {
				if t.ID == "" {
					return fmt.Errorf("catalog: course %q week %d has a coding task without id", course.ID, w.Number)
				}
				if tasks[t.ID] {
					return fmt.Errorf("catalog: course %q has duplicate coding task %q (week %d)", course.ID, t.ID, w.Number)
				}
				tasks[t.ID] = true
			}
		}
	}
	return nil
}
