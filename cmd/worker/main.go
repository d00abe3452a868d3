package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/behavior"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/captcha"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/config"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/ingest"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/queue"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/rules"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/store"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/sweeper"
)

func init() {
	if os.Getenv("RUNNING_IN_DOCKER") == "" {
		err := godotenv.Load("../../.env")
		if err != nil {
			log.Println("No .env file found (this is fine in Docker)")
		}
	}
}

func main() {
	config, err := config.SetupWorkerConfig()
	if err != nil {
		log.Panic(err)
	}
	defer config.Pg.Close()
	defer config.Redis.Close()
	defer config.Kafka.Close()

	ctx := context.Background()
	settings := config.Settings

	pg := store.New(config.Pg)
	ingestor := ingest.NewIngestor(config.Chunks, settings.ArchivePrefix)
	classifier := behavior.NewClassifier(settings.ModelPath, settings.ThresholdPath, settings.Temperature)
	engine := rules.NewEngine(settings.Rules)

	results := queue.NewRedisResults(config.Redis, 0)

	// The consumer client doubles as the producer for archive tasks the
	// verifier schedules after a success.
	tasks := queue.NewKafka(config.Kafka, settings.TaskTopic, results)
	verifier := captcha.NewVerifier(pg, ingestor, classifier, engine,
		queue.Archiver{Q: tasks}, settings.SessionTimeout)

	go sweeper.New(pg, settings.SessionTimeout, settings.SweepInterval).Run(ctx)

	consumer := queue.NewConsumer(config.Kafka, func(ctx context.Context, task queue.Task) (any, error) {
		switch task.Type {
		case queue.TaskVerify:
			return verifier.Verify(ctx, task.SessionID, task.Answer, task.IPAddress, task.UserAgent)
		case queue.TaskArchive:
			return nil, ingestor.Archive(ctx, task.SessionID)
		default:
			return nil, fmt.Errorf("unknown task type %q", task.Type)
		}
	}, results)

	log.Printf("[Worker] consuming %s", settings.TaskTopic)
	if err := consumer.Run(ctx); err != nil {
		log.Panic(err)
	}
}
