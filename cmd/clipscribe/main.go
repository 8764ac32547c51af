package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clipscribe/clipscribe/internal/audio"
	"github.com/clipscribe/clipscribe/internal/client"
	"github.com/clipscribe/clipscribe/internal/config"
	"github.com/clipscribe/clipscribe/internal/domain"
	"github.com/clipscribe/clipscribe/internal/generate"
	"github.com/clipscribe/clipscribe/internal/history"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/clipscribe/config.yaml)")
	filePath := flag.String("file", "", "audio or video file to transcribe")
	record := flag.Bool("record", false, "record from the microphone instead of a file (Ctrl+C stops)")
	modelID := flag.String("model", "", "model ID (overrides config)")
	language := flag.String("language", "auto", "language hint, or \"auto\" to detect")
	translate := flag.Bool("translate", false, "translate the transcript to English")
	timestamps := flag.Bool("timestamps", false, "print word-level timestamps")
	listHistory := flag.Int("history", 0, "list the N most recent transcripts and exit")
	genType := flag.String("generate", "", "generate content from the transcript: social_media or blog")
	platforms := flag.String("platforms", "twitter", "comma-separated platforms for social posts")
	genContext := flag.String("context", "", "extra context for content generation")
	audience := flag.String("audience", "", "target audience for content generation")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *modelID != "" {
		cfg.Model = *modelID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	store := history.NewStore(cfg.History.Dir)

	if *listHistory > 0 {
		printHistory(store, *listHistory)
		return
	}

	if *filePath == "" && !*record {
		log.Fatal("nothing to do: pass -file <path> or -record")
	}

	printBanner(cfg)

	c, err := client.New(client.Config{
		ModelsDir:        cfg.ModelsDir,
		ModelID:          cfg.Model,
		Device:           cfg.Device,
		ChunkSeconds:     cfg.Engine.ChunkSeconds,
		OverlapSeconds:   cfg.Engine.OverlapSeconds,
		LoadTimeout:      cfg.Timeouts.ModelLoad(),
		InferenceTimeout: cfg.Timeouts.Inference(),
		OnProgress:       printProgress,
		History:          store,
	})
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	defer c.Close()

	info, err := c.ProbeDevice(context.Background())
	if err != nil {
		log.Fatalf("device probe: %v", err)
	}
	log.Printf("Compute device: %s", info.Device)

	opts := domain.Options{
		Language:   *language,
		Translate:  *translate,
		Timestamps: *timestamps,
	}

	var result domain.Result
	start := time.Now()
	if *record {
		result, err = transcribeMicrophone(c, opts)
	} else {
		result, err = c.TranscribeFile(context.Background(), *filePath, opts)
	}
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}
	log.Printf("Transcribed %.1fs of audio in %s (language: %s)",
		result.Duration, time.Since(start).Round(time.Millisecond), result.Language)

	fmt.Println()
	fmt.Println(result.Text)
	if *timestamps {
		fmt.Println()
		for _, ch := range result.Chunks {
			fmt.Printf("[%7.2f - %7.2f] %s\n", ch.Start, ch.End, ch.Text)
		}
	}

	if *genType != "" {
		if err := runGenerate(cfg, result.Text, *genType, *platforms, *genContext, *audience); err != nil {
			log.Fatalf("content generation failed: %v", err)
		}
	}
}

// transcribeMicrophone records until Ctrl+C, then transcribes the capture.
func transcribeMicrophone(c *client.Client, opts domain.Options) (domain.Result, error) {
	recorder, err := audio.NewRecorder()
	if err != nil {
		return domain.Result{}, fmt.Errorf("initializing recorder: %w (check microphone permissions)", err)
	}
	defer recorder.Close()

	if err := recorder.Start(); err != nil {
		return domain.Result{}, fmt.Errorf("starting recording: %w", err)
	}
	log.Println("Recording... press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	samples := recorder.Stop()
	duration := float64(len(samples)) / float64(domain.SampleRate)
	if duration < 0.3 {
		return domain.Result{}, fmt.Errorf("recording too short (%.1fs)", duration)
	}
	log.Printf("Captured %.1fs of audio, transcribing...", duration)

	return c.TranscribePCM(context.Background(), samples, opts)
}

// runGenerate sends the transcript to the content-generation endpoint.
func runGenerate(cfg *config.Config, transcript, genType, platforms, extra, audience string) error {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("set LLM_API_KEY to use -generate")
	}

	gen := generate.New(cfg.Generate.BaseURL, cfg.Generate.Model, apiKey)
	log.Printf("Generating %s content with %s...", genType, cfg.Generate.Model)

	content, err := gen.Generate(context.Background(), generate.Request{
		Transcript: transcript,
		Type:       generate.ContentType(genType),
		Platforms:  strings.Split(platforms, ","),
		Context:    extra,
		Audience:   audience,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("--- generated content ---")
	fmt.Println(content)
	return nil
}

// printHistory lists recent transcripts, most recent first.
func printHistory(store *history.Store, limit int) {
	records, err := store.List(limit)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No transcripts yet.")
		return
	}
	for _, rec := range records {
		text := rec.Text
		if len(text) > 80 {
			text = text[:77] + "..."
		}
		fmt.Printf("%s  %-20s  %s\n", rec.Timestamp.Local().Format("2006-01-02 15:04"), rec.Title, text)
	}
}

// printProgress renders progress events on one updating line.
func printProgress(p domain.Progress) {
	switch p.Stage {
	case domain.StageDownload:
		if p.Total > 0 {
			fmt.Printf("\rDownloading %s: %.0f%%   ", p.File, float64(p.Loaded)/float64(p.Total)*100)
		} else {
			fmt.Printf("\rDownloading %s: %d bytes   ", p.File, p.Loaded)
		}
	case domain.StageModelReady:
		fmt.Print("\r")
		log.Println("Model ready")
	case domain.StageTranscribing:
		fmt.Printf("\rTranscribing: %3.0f%%   ", p.Percent)
	case domain.StageComplete:
		fmt.Print("\r")
	case domain.StageError:
		fmt.Print("\r")
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== clipscribe ===")
	fmt.Printf("  Model:   %s\n", cfg.Model)
	fmt.Printf("  Device:  %s\n", cfg.Device)
	fmt.Printf("  Models:  %s\n", cfg.ModelsDir)
	fmt.Printf("  Chunk:   %gs (overlap %gs)\n", cfg.Engine.ChunkSeconds, cfg.Engine.OverlapSeconds)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
