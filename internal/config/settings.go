package config

import (
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/behavior"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/env"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/rules"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/sweeper"
)

// Settings are the plain values read from the environment, as opposed to
// the live clients in Config.
type Settings struct {
	Port           int
	ImageBaseURL   string
	ArchivePrefix  string
	ModelPath      string
	ThresholdPath  string
	Temperature    float64
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	AsyncVerify    bool
	TaskTopic      string
	QueueWorkers   int
	Rules          rules.Config
}

func loadSettings() Settings {
	defaults := rules.DefaultConfig()
	return Settings{
		Port:           env.GetEnvInt("PORT", 8080),
		ImageBaseURL:   env.GetEnvString("S3_BASE_URL", "https://scratcha-assets.kr-central-2.kakaocloud.com"),
		ArchivePrefix:  env.GetEnvString("ARCHIVE_PREFIX", "behavior-archive"),
		ModelPath:      env.GetEnvString("MODEL_PATH", "models/scratch_cnn.json"),
		ThresholdPath:  env.GetEnvString("THRESHOLD_PATH", "models/thresholds.json"),
		Temperature:    env.GetEnvFloat("MODEL_TEMPERATURE", behavior.DefaultTemperature),
		SessionTimeout: env.GetEnvDuration("SESSION_TIMEOUT", captcha.DefaultSessionTimeout),
		SweepInterval:  env.GetEnvDuration("SWEEP_INTERVAL", sweeper.DefaultInterval),
		AsyncVerify:    env.GetEnvString("VERIFY_MODE", "sync") == "async",
		TaskTopic:      env.GetEnvString("KAFKA_TASK_TOPIC", "captcha-tasks"),
		QueueWorkers:   env.GetEnvInt("QUEUE_WORKERS", 4),
		Rules: rules.Config{
			MinSolveTime:       env.GetEnvDuration("RULES_MIN_SOLVE_TIME", defaults.MinSolveTime),
			MinScratchPercent:  env.GetEnvFloat("RULES_MIN_SCRATCH_PERCENT", defaults.MinScratchPercent),
			OverrideClassifier: env.GetEnvBool("RULES_OVERRIDE_CLASSIFIER", defaults.OverrideClassifier),
		},
	}
}
