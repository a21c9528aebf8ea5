package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/tracing"
)

type Config struct {
	AppConfig        *AppConfig
	Logger           *logger.Config
	Tracing          *tracing.JaegerConfig
	DatabaseConfig   *DatabaseConfig
	IMAPConfig       *IMAPConfig
	PollerConfig     *PollerConfig
	AttachmentConfig *AttachmentConfig
	S3StorageConfig  *S3StorageConfig
	R2StorageConfig  *R2StorageConfig
	ExtractorConfig  *ExtractorConfig
	AIConfig         *AIConfig
	HandoffConfig    *HandoffConfig
	Policy           *Policy
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:        &AppConfig{},
		Logger:           &logger.Config{},
		Tracing:          &tracing.JaegerConfig{},
		DatabaseConfig:   &DatabaseConfig{},
		IMAPConfig:       &IMAPConfig{},
		PollerConfig:     &PollerConfig{},
		AttachmentConfig: &AttachmentConfig{},
		S3StorageConfig:  &S3StorageConfig{},
		R2StorageConfig:  &R2StorageConfig{},
		ExtractorConfig:  &ExtractorConfig{},
		AIConfig:         &AIConfig{},
		HandoffConfig:    &HandoffConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading rfqstack config: %v", err)
	}

	config.Policy, err = LoadPolicy(config.AppConfig.PolicyFile)
	if err != nil {
		return nil, err
	}

	return config, nil
}
