package config

import (
	"errors"
	"time"
)

type PipelineConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	MaxWait          time.Duration `yaml:"maxWait"`
	OutboxInterval   time.Duration `yaml:"outboxInterval"`
	OutboxBatch      int           `yaml:"outboxBatch"`
	FailWriteTimeout time.Duration `yaml:"failWriteTimeout"`
	UploadMaxBytes   int64         `yaml:"uploadMaxBytes"`
	ImageMaxSide     int           `yaml:"imageMaxSide"`
	JPEGQuality      int           `yaml:"jpegQuality"`
}

func defaultPipeline() PipelineConfig {
	return PipelineConfig{
		PollInterval:     1500 * time.Millisecond,
		MaxWait:          5 * time.Minute,
		OutboxInterval:   5 * time.Second,
		OutboxBatch:      50,
		FailWriteTimeout: 10 * time.Second,
		UploadMaxBytes:   10 << 20,
		ImageMaxSide:     4096,
		JPEGQuality:      90,
	}
}

func (c *PipelineConfig) applyEnv() {
	envDuration("PIPELINE_POLL_INTERVAL", &c.PollInterval)
	envDuration("PIPELINE_MAX_WAIT", &c.MaxWait)
	envDuration("OUTBOX_INTERVAL", &c.OutboxInterval)
	envInt("OUTBOX_BATCH", &c.OutboxBatch)
	envDuration("PIPELINE_FAIL_WRITE_TIMEOUT", &c.FailWriteTimeout)
	envInt64("UPLOAD_MAX_BYTES", &c.UploadMaxBytes)
	envInt("IMAGE_MAX_SIDE", &c.ImageMaxSide)
	envInt("JPEG_QUALITY", &c.JPEGQuality)
}

func (c *PipelineConfig) validate() error {
	if c.PollInterval <= 0 {
		return errors.New("pipeline poll interval must be positive")
	}
	if c.MaxWait < c.PollInterval {
		return errors.New("pipeline max wait must be at least one poll interval")
	}
	if c.UploadMaxBytes <= 0 {
		return errors.New("upload size limit must be positive")
	}
	return nil
}
