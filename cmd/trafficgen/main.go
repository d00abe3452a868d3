package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/env"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/trafficgen"
)

type flags struct {
	Sessions    int
	Concurrency int
	BotRate     float64
	Endpoint    string
	APIKey      string
}

func parseFlags() flags {
	var f flags

	flag.IntVar(&f.Sessions, "sessions", 50, "Number of captcha sessions to simulate")
	flag.IntVar(&f.Concurrency, "concurrency", 5, "Number of concurrent simulated sessions")
	flag.Float64Var(&f.BotRate, "bot-rate", 0.2, "Fraction of sessions driven by a bot trace (0.0 - 1.0)")
	flag.StringVar(&f.Endpoint, "endpoint", env.GetEnvString("CAPTCHA_API_URL", "http://localhost:8080"), "API base URL to send sessions to")
	flag.StringVar(&f.APIKey, "apikey", env.GetEnvString("CAPTCHA_API_KEY", "dev-key"), "API key used to issue problems")

	flag.Parse()

	if f.BotRate < 0.0 || f.BotRate > 1.0 {
		log.Fatal("Bot rate must be between 0.0 and 1.0!")
	}

	return f
}

func main() {
	godotenv.Load("../../.env")
	flags := parseFlags()
	faker := gofakeit.New(123)

	sim := trafficgen.NewSimulator(flags.Endpoint, flags.APIKey, faker)

	jobs := make(chan bool)
	var wg sync.WaitGroup

	for i := 0; i < flags.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for bot := range jobs {
				outcome, err := sim.RunSession(context.Background(), bot)
				if err != nil {
					log.Printf("Session failed: %v", err)
					continue
				}
				log.Printf("Session finished: %s (bot trace: %v)", outcome, bot)
			}
		}()
	}

	for i := 0; i < flags.Sessions; i++ {
		jobs <- rand.Float64() < flags.BotRate
	}
	close(jobs)
	wg.Wait()
}
