package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/badespider/videoeditor-sub000/api"
	"github.com/badespider/videoeditor-sub000/characters"
	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/pipeline"
	"github.com/badespider/videoeditor-sub000/pprof"
	"github.com/badespider/videoeditor-sub000/script"
	"github.com/badespider/videoeditor-sub000/state"
)

func main() {
	fs := flag.NewFlagSet("recap-server", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	fs.IntVar(&cli.Port, "port", 8090, "Port to listen on for the public API")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics port")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")

	// state
	fs.StringVar(&cli.RedisURL, "redis-url", "redis://127.0.0.1:6379/0", "Redis URL for job state, queues and pub/sub")

	// object store
	fs.StringVar(&cli.StoreEndpoint, "store-endpoint", "127.0.0.1:9000", "S3-compatible object store endpoint")
	fs.StringVar(&cli.StorePublicEndpoint, "store-public-endpoint", "", "Public endpoint substituted into presigned URLs, if the store sits behind a proxy")
	fs.StringVar(&cli.StoreAccessKey, "store-access-key", "", "Object store access key")
	fs.StringVar(&cli.StoreSecretKey, "store-secret-key", "", "Object store secret key")
	fs.BoolVar(&cli.StoreSecure, "store-secure", false, "Use TLS when talking to the object store")
	fs.StringVar(&cli.BucketVideos, "bucket-videos", "videos", "Bucket holding uploaded source videos")
	fs.StringVar(&cli.BucketAudio, "bucket-audio", "audio", "Bucket holding intermediate narration audio")
	fs.StringVar(&cli.BucketOutput, "bucket-output", "output", "Bucket holding finished recaps")

	// external services
	fs.StringVar(&cli.MemoriesURL, "memories-url", "", "Base URL of the video understanding service")
	fs.StringVar(&cli.MemoriesAPIKey, "memories-api-key", "", "API key for the video understanding service")
	fs.StringVar(&cli.LLMAPIKey, "llm-api-key", "", "API key for narration text generation")
	fs.StringVar(&cli.LLMBaseURL, "llm-base-url", "", "Override base URL for the text generation API")
	fs.StringVar(&cli.LLMModel, "llm-model", "gpt-4o", "Model used for narration text generation")
	fs.StringVar(&cli.TTSAPIKey, "tts-api-key", "", "API key for narration speech synthesis")
	fs.StringVar(&cli.TTSVoiceID, "tts-voice-id", "", "Voice id used for narration speech synthesis")
	fs.StringVar(&cli.TTSModelID, "tts-model-id", clients.TurboTTSModel, "Model used for narration speech synthesis")

	// webhook callbacks
	fs.StringVar(&cli.WebhookBaseURL, "webhook-base-url", "", "Public https base URL of this server, used for parse callbacks. Leave empty to poll instead")
	fs.StringVar(&cli.WebhookSecret, "webhook-secret", "", "Shared secret for verifying signed parse callbacks")
	fs.StringVar(&cli.WebhookSignatureHeader, "webhook-signature-header", "", "Header carrying the callback signature, if the sender uses a non-standard one")

	// pipeline behaviour
	fs.IntVar(&cli.WorkerCount, "worker-count", 2, "Number of concurrent recap workers")
	fs.StringVar(&cli.TempDir, "temp-dir", os.TempDir(), "Scratch directory for per-job working files")
	fs.BoolVar(&cli.EnableSceneMatcher, "scene-matcher", true, "Match user script chapters against the transcript to pick scene windows")
	fs.Float64Var(&cli.SceneMatcherThreshold, "scene-matcher-threshold", config.DefaultSceneMatcherThreshold, "Minimum confidence for a transcript match to pin a scene")
	fs.BoolVar(&cli.EnableCopyrightProtection, "copyright-protection", false, "Apply visual transforms to finished recaps when the job asks for them")
	fs.BoolVar(&cli.EnableCharacterExtraction, "character-extraction", true, "Build per-series character rosters for narration")
	fs.IntVar(&cli.RetentionMaxAgeHours, "retention-max-age-hours", 72, "Delete terminal jobs older than this many hours. 0 disables the sweeper")

	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("RECAP"),
	)
	if err != nil {
		fatal("error parsing cli", err)
	}
	if len(fs.Args()) > 0 {
		fatal("unexpected extra arguments on command line", fmt.Errorf("%v", fs.Args()))
	}

	if *version {
		fmt.Printf("recap-server version: %s\n", config.Version)
		return
	}

	go func() {
		log.LogNoJobID("pprof listener stopped", "err", pprof.ListenAndServe(*pprofPort))
	}()

	store, err := state.NewRedisStore(cli.RedisURL)
	if err != nil {
		fatal("error connecting to redis", err)
	}
	manager := state.NewJobManager(store)

	blobs, err := clients.NewObjectStore(&cli)
	if err != nil {
		fatal("error connecting to the object store", err)
	}
	if err := blobs.EnsureBuckets(context.Background()); err != nil {
		fatal("error preparing buckets", err)
	}

	memories := clients.NewMemoriesClient(cli.MemoriesURL, cli.MemoriesAPIKey)
	llm := clients.NewLLMClient(cli.LLMAPIKey, cli.LLMBaseURL, cli.LLMModel)
	tts := clients.NewTTSClient(cli.TTSAPIKey, cli.TTSVoiceID, cli.TTSModelID)
	narrator := script.NewGenerator(llm)
	extractor := characters.NewExtractor(llm, memories, characters.NewSeriesDB(store))

	// Root context; cancelling it prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, &cli, manager, blobs)
	})

	group.Go(func() error {
		return listenAndServeMetrics(ctx, cli.PromPort)
	})

	for i := 0; i < cli.WorkerCount; i++ {
		worker := pipeline.NewWorker(&cli, manager, pipeline.Deps{
			Blobs:         blobs,
			Understanding: memories,
			Narrator:      narrator,
			Speech:        tts,
			Characters:    extractor,
			Toolchain:     pipeline.FFmpegToolchain{},
		})
		group.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	if cli.RetentionMaxAgeHours > 0 {
		group.Go(func() error {
			return runRetentionSweeper(ctx, manager, time.Duration(cli.RetentionMaxAgeHours)*time.Hour)
		})
	}

	err = group.Wait()
	log.LogNoJobID("Shutdown complete", "reason", err)
}

func listenAndServeMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: mux}

	ctx, cancel := context.WithCancel(ctx)
	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runRetentionSweeper(ctx context.Context, manager *state.JobManager, maxAge time.Duration) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := manager.CleanupOldJobs(ctx, maxAge)
			if err != nil {
				log.LogNoJobID("retention sweep failed", "err", err)
				continue
			}
			if removed > 0 {
				log.LogNoJobID("retention sweep removed old jobs", "count", removed)
			}
		}
	}
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal=%v", s)
	case <-ctx.Done():
		return nil
	}
}

func fatal(msg string, err error) {
	log.LogNoJobID(msg, "err", err)
	os.Exit(1)
}
