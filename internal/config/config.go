// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EngineConfig holds the init-time knobs from the public engine surface
// (§6 "Configuration": max retries, queue size, publish interval, track
// names, benchmark mode) plus the connection parameters needed to drive a
// standalone client process.
type EngineConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required"`

	LiveKitURL   string `mapstructure:"url" validate:"required"`
	LiveKitToken string `mapstructure:"token" validate:"required"`

	MaxRetries        int  `mapstructure:"max_retries" validate:"required"`
	QueueSize         int  `mapstructure:"queue_size" validate:"required"`
	PublishIntervalMs int  `mapstructure:"publish_interval_ms" validate:"required"`
	Benchmark         bool `mapstructure:"benchmark"`

	PublishAudioTrack bool   `mapstructure:"publish_audio_track"`
	PublishVideoTrack bool   `mapstructure:"publish_video_track"`
	DeviceModel       string `mapstructure:"device_model" validate:"required"`
	StunURL           string `mapstructure:"stun_url"`
}

// InitConfig wires up viper the way the rest of the stack does: "__" as the
// nested-key delimiter, an optional ENV_PATH override, defaults, then env.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()
	if err := vConfig.ReadInConfig(); err != nil {
		log.Printf("no .env file found, reading from env variables only: %v", err)
	}

	setDefaults(vConfig)
	return vConfig, nil
}

func setDefaults(v *viper.Viper) {
	// URL and TOKEN have no usable default; registering them empty makes
	// Unmarshal pick them up from the environment, and validation still
	// rejects them when unset.
	v.SetDefault("URL", "")
	v.SetDefault("TOKEN", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_RETRIES", 10)
	v.SetDefault("QUEUE_SIZE", 64)
	v.SetDefault("PUBLISH_INTERVAL_MS", 20)
	v.SetDefault("BENCHMARK", false)
	v.SetDefault("PUBLISH_AUDIO_TRACK", true)
	v.SetDefault("PUBLISH_VIDEO_TRACK", false)
	v.SetDefault("DEVICE_MODEL", "generic")
	v.SetDefault("STUN_URL", "stun:stun.l.google.com:19302")
}

// GetEngineConfig unmarshals and validates the engine configuration.
func GetEngineConfig(v *viper.Viper) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
