package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/api"
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
	config, err := config.SetupAPIConfig()
	if err != nil {
		log.Panic(err)
	}
	defer config.Pg.Close()
	if config.Redis != nil {
		defer config.Redis.Close()
	}
	if config.Kafka != nil {
		defer config.Kafka.Close()
	}

	ctx := context.Background()
	settings := config.Settings

	pg := store.New(config.Pg)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Panic(err)
	}

	ingestor := ingest.NewIngestor(config.Chunks, settings.ArchivePrefix)
	classifier := behavior.NewClassifier(settings.ModelPath, settings.ThresholdPath, settings.Temperature)
	engine := rules.NewEngine(settings.Rules)

	var taskQueue queue.Queue
	var verifier *captcha.Verifier

	if settings.AsyncVerify {
		// Async mode: the worker binary consumes the tasks, this process
		// only produces and serves results out of Redis.
		results := queue.NewRedisResults(config.Redis, 0)
		taskQueue = queue.NewKafka(config.Kafka, settings.TaskTopic, results)
	} else {
		// Single-binary mode: verification and archival both run on the
		// in-process pool, and the sweeper runs here too.
		inproc := queue.NewInProcess(settings.QueueWorkers, func(ctx context.Context, task queue.Task) (any, error) {
			switch task.Type {
			case queue.TaskVerify:
				return verifier.Verify(ctx, task.SessionID, task.Answer, task.IPAddress, task.UserAgent)
			case queue.TaskArchive:
				return nil, ingestor.Archive(ctx, task.SessionID)
			default:
				return nil, fmt.Errorf("unknown task type %q", task.Type)
			}
		})
		taskQueue = inproc
		go sweeper.New(pg, settings.SessionTimeout, settings.SweepInterval).Run(ctx)
	}
	verifier = captcha.NewVerifier(pg, ingestor, classifier, engine,
		queue.Archiver{Q: taskQueue}, settings.SessionTimeout)

	server := &api.Server{
		Keys:     pg,
		Service:  captcha.NewService(pg, settings.ImageBaseURL),
		Verifier: verifier,
		Ingestor: ingestor,
		Queue:    taskQueue,
		Async:    settings.AsyncVerify,
	}

	addr := fmt.Sprintf(":%d", settings.Port)
	log.Printf("[API] listening on %s (async verify: %v)", addr, settings.AsyncVerify)
	err = http.ListenAndServe(addr, server.Routes())
	if errors.Is(err, http.ErrServerClosed) {
		fmt.Printf("server closed\n")
	} else if err != nil {
		fmt.Printf("error starting server: %s\n", err)
		os.Exit(1)
	}
}
