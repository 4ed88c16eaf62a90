package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Every binary loads it once and
// passes the relevant sections to constructors.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Postgres PostgresConfig `yaml:"postgres"`
	Storage  StorageConfig  `yaml:"storage"`
	S3       S3Config       `yaml:"s3"`
	Minio    MinioConfig    `yaml:"minio"`
	Textract TextractConfig `yaml:"textract"`
	OCR      OCRConfig      `yaml:"ocr"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Fiscal   FiscalConfig   `yaml:"fiscal"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	HealthAddr      string        `yaml:"healthAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	File     string `yaml:"file"`
}

// Default returns a config that runs against local redis, postgres and minio.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			HealthAddr:      ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Redis:    defaultRedis(),
		Queue:    defaultQueue(),
		Postgres: defaultPostgres(),
		Storage: StorageConfig{
			Type:       "s3",
			Folder:     "receipts",
			PresignTTL: time.Hour,
			Retention:  30 * 24 * time.Hour,
		},
		S3:       S3Config{},
		Minio:    MinioConfig{},
		Textract: TextractConfig{},
		OCR:      defaultOCR(),
		OpenAI:   defaultOpenAI(),
		Fiscal:   defaultFiscal(),
		Pipeline: defaultPipeline(),
	}
}

// Load reads .env (if any), then the YAML file named by CONFIG_FILE (if any),
// then lets environment variables override individual values.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: could not read %s, falling back to environment variables: %v", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString("SERVER_ADDR", &c.Server.Addr)
	envString("HEALTH_ADDR", &c.Server.HealthAddr)
	envDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_ENCODING", &c.Log.Encoding)
	envString("LOG_FILE", &c.Log.File)

	c.Redis.applyEnv()
	c.Queue.applyEnv()
	c.Postgres.applyEnv()
	c.Storage.applyEnv()
	c.S3.applyEnv()
	c.Minio.applyEnv()
	c.Textract.applyEnv()
	c.OCR.applyEnv()
	c.OpenAI.applyEnv()
	c.Fiscal.applyEnv()
	c.Pipeline.applyEnv()
}

// Validate checks the settings every process needs. Role specific
// requirements (assistant credentials, for example) are checked where the
// role is wired.
func (c *Config) Validate() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}
	if err := c.Storage.validate(c); err != nil {
		errs = append(errs, err)
	}
	if err := c.OCR.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Pipeline.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = b
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = d
	}
}

func envList(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
