package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v2"
)

const (
	DefaultSMTPAddr        = ":8025"
	DefaultScanInterval    = 20 * time.Second
	DefaultWorkers         = 2
	DefaultDBMaxConns      = 4
	DefaultMaxMessageBytes = 25 << 20
	DefaultKafkaTopic      = "photo-ready"
)

type Config struct {
	SMTP       SMTPConfig       `yaml:"smtp"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	Processing ProcessingConfig `yaml:"processing"`
	PublicDir  string           `yaml:"public_dir"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
}

type SMTPConfig struct {
	Addr            string        `yaml:"addr"`
	Domain          string        `yaml:"domain"`
	Recipient       string        `yaml:"recipient"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	MaxRecipients   int           `yaml:"max_recipients"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // pgx, postgres or sqlite3
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type QueueConfig struct {
	Dir           string        `yaml:"dir"`
	StagingDir    string        `yaml:"staging_dir"`
	QuarantineDir string        `yaml:"quarantine_dir"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
}

type ProcessingConfig struct {
	Workers int `yaml:"workers"`
	// Command is an argv prefix; input and output paths are appended.
	Command []string `yaml:"command"`
	// MaxWidth bounds the built-in converter used when Command is empty.
	MaxWidth int `yaml:"max_width"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// envOverrides lists the settings that may be supplied through the environment.
type envOverrides struct {
	SMTPAddr      string `env:"TIEDYE_SMTP_ADDR"`
	SMTPRecipient string `env:"TIEDYE_SMTP_RECIPIENT"`
	DatabaseURL   string `env:"TIEDYE_DATABASE_URL"`
	QueueDir      string `env:"TIEDYE_QUEUE_DIR"`
	PublicDir     string `env:"TIEDYE_PUBLIC_DIR"`
	AdminAddr     string `env:"TIEDYE_ADMIN_ADDR"`
	LogLevel      string `env:"TIEDYE_LOG_LEVEL"`
}

func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.SMTP.Addr, o.SMTPAddr)
	set(&c.SMTP.Recipient, o.SMTPRecipient)
	set(&c.Database.URL, o.DatabaseURL)
	set(&c.Queue.Dir, o.QueueDir)
	set(&c.PublicDir, o.PublicDir)
	set(&c.Admin.Addr, o.AdminAddr)
	set(&c.Log.Level, o.LogLevel)
	return nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.SMTP.Addr == "" {
		c.SMTP.Addr = DefaultSMTPAddr
	}
	if c.SMTP.Domain == "" {
		c.SMTP.Domain = "localhost"
	}
	if c.SMTP.MaxMessageBytes <= 0 {
		c.SMTP.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SMTP.MaxRecipients <= 0 {
		c.SMTP.MaxRecipients = 10
	}
	if c.SMTP.ReadTimeout <= 0 {
		c.SMTP.ReadTimeout = time.Minute
	}
	if c.SMTP.WriteTimeout <= 0 {
		c.SMTP.WriteTimeout = time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = DefaultDBMaxConns
	}
	if c.Queue.Dir != "" && c.Queue.StagingDir == "" {
		c.Queue.StagingDir = filepath.Join(c.Queue.Dir, ".incoming")
	}
	if c.Queue.Dir != "" && c.Queue.QuarantineDir == "" {
		c.Queue.QuarantineDir = filepath.Join(c.Queue.Dir, ".quarantine")
	}
	if c.Queue.ScanInterval <= 0 {
		c.Queue.ScanInterval = DefaultScanInterval
	}
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = DefaultWorkers
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.SMTP.Recipient == "" {
		errs = append(errs, errors.New("smtp.recipient is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Database.Driver {
	case "pgx", "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Queue.Dir == "" {
		errs = append(errs, errors.New("queue.dir is required"))
	}
	if c.PublicDir == "" {
		errs = append(errs, errors.New("public_dir is required"))
	}
	if len(c.Processing.Command) == 0 && c.Processing.MaxWidth <= 0 {
		errs = append(errs, errors.New("processing.command or processing.max_width is required"))
	}
	return errors.Join(errs...)
}
