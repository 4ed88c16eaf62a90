package config

import (
	"errors"
	"fmt"
	"time"
)

type StorageConfig struct {
	Type       string        `yaml:"type"` // s3 | minio
	Folder     string        `yaml:"folder"`
	PresignTTL time.Duration `yaml:"presignTtl"`
	Retention  time.Duration `yaml:"retention"`
}

type S3Config struct {
	BucketName   string `yaml:"bucketName"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

func (c *StorageConfig) applyEnv() {
	envString("STORAGE_TYPE", &c.Type)
	envString("STORAGE_FOLDER", &c.Folder)
	envDuration("STORAGE_PRESIGN_TTL", &c.PresignTTL)
	envDuration("STORAGE_RETENTION", &c.Retention)
}

func (c *StorageConfig) validate(root *Config) error {
	switch c.Type {
	case "s3":
		if root.S3.BucketName == "" || root.S3.Region == "" {
			return errors.New("s3 storage requires AWS_S3_BUCKET_NAME and AWS_REGION")
		}
	case "minio":
		if root.Minio.Endpoint == "" || root.Minio.BucketName == "" {
			return errors.New("minio storage requires MINIO_ENDPOINT and MINIO_BUCKET_NAME")
		}
	default:
		return fmt.Errorf("unsupported storage type %q", c.Type)
	}
	return nil
}

func (c *S3Config) applyEnv() {
	envString("AWS_S3_BUCKET_NAME", &c.BucketName)
	envString("AWS_REGION", &c.Region)
	envString("AWS_ENDPOINT", &c.Endpoint)
	envString("AWS_ACCESS_KEY", &c.AccessKey)
	envString("AWS_SECRET_KEY", &c.SecretKey)
	envBool("AWS_S3_PATH_STYLE", &c.UsePathStyle)
}
