package config

import "time"

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig tunes the asynq producer and consumers. Queue names are fixed
// by the pipeline and not configurable.
type QueueConfig struct {
	TaskTimeout     time.Duration `yaml:"taskTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Retention       time.Duration `yaml:"retention"`
}

func defaultRedis() RedisConfig {
	return RedisConfig{Addr: "localhost:6379"}
}

func defaultQueue() QueueConfig {
	return QueueConfig{
		TaskTimeout:     10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		Retention:       24 * time.Hour,
	}
}

func (c *RedisConfig) applyEnv() {
	envString("REDIS_ADDR", &c.Addr)
	envString("REDIS_PASSWORD", &c.Password)
	envInt("REDIS_DB", &c.DB)
}

func (c *QueueConfig) applyEnv() {
	envDuration("QUEUE_TASK_TIMEOUT", &c.TaskTimeout)
	envDuration("QUEUE_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	envDuration("QUEUE_RETENTION", &c.Retention)
}
