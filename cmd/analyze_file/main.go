package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"audio-forensics/sonar"
	"audio-forensics/wav"
)

// CLI defines the command-line interface
type CLI struct {
	Files       []string `arg:"" name:"files" help:"WAV files to analyze" type:"existingfile"`
	JSON        bool     `help:"Print the full analysis result as JSON"`
	FrameSize   int      `help:"Samples per analysis frame" default:"2048"`
	HopSize     int      `help:"Samples between frame starts" default:"1024"`
	Sensitivity float64  `help:"Event trigger ratio over the noise floor" default:"2.0"`
	MinHoldMs   float64  `name:"min-hold-ms" help:"Quiet time needed to close an event" default:"100"`
	MaxPoints   int      `help:"Maximum spectrum points (0 keeps every bin)" default:"0"`
	Workers     int      `help:"Parallel feature workers (0 uses GOMAXPROCS)" default:"0"`
	Prototypes  string   `type:"path" help:"Prototype model file; events use the rules when unset"`
	K           int      `help:"Neighbours for prototype matching" default:"5"`
}

func main() {
	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("analyze_file"),
		kong.Description("Detect and classify sound events in WAV recordings"),
		kong.UsageOnError(),
	)

	cfg := sonar.DefaultConfig()
	cfg.FrameSize = cliArgs.FrameSize
	cfg.HopSize = cliArgs.HopSize
	cfg.SensitivityFactor = cliArgs.Sensitivity
	cfg.MinHoldTimeMs = cliArgs.MinHoldMs
	cfg.MaxSpectrumPoints = cliArgs.MaxPoints
	cfg.Workers = cliArgs.Workers

	var opts []sonar.Option
	if cliArgs.Prototypes != "" {
		classifier, err := sonar.NewPrototypeClassifierFromFile(cliArgs.Prototypes, cliArgs.K)
		ctx.FatalIfErrorf(err)
		opts = append(opts, sonar.WithClassifier(classifier))
	}

	analyzer, err := sonar.NewAnalyzer(cfg, opts...)
	ctx.FatalIfErrorf(err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for _, path := range cliArgs.Files {
		result, err := analyzeFile(runCtx, analyzer, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if cliArgs.JSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			ctx.FatalIfErrorf(enc.Encode(result))
			continue
		}
		printSummary(path, result)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func analyzeFile(ctx context.Context, analyzer *sonar.Analyzer, path string) (*sonar.AnalysisResult, error) {
	audio, err := wav.DecodeFile(path)
	if err != nil {
		return nil, &sonar.DecodeError{Err: err}
	}
	w, err := sonar.NewWaveform(audio.Samples, audio.SampleRate)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(ctx, w)
}

func printSummary(path string, result *sonar.AnalysisResult) {
	fmt.Printf("%s\n", filepath.Base(path))
	fmt.Printf("  duration %.2fs, %d Hz, %d frames\n", result.Duration, result.SampleRate, result.FrameCount)
	fmt.Printf("  average RMS %.4f, max %.1f dB, dominant %.1f Hz\n",
		result.AverageRMS, result.MaxDecibels, result.DominantFrequency)
	fmt.Printf("  %d sound events\n", result.DetectedSounds)
	if result.DetectedSounds == 0 {
		fmt.Println()
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  TIME\tDURATION\tTYPE\tFREQ (Hz)\tdB\tCONFIDENCE\tSOURCE")
	for _, e := range result.SoundEvents {
		fmt.Fprintf(tw, "  %.2f\t%.2f\t%s\t%.1f\t%.1f\t%.2f\t%s\n",
			e.Time, e.Duration, e.Type, e.Frequency, e.Decibels, e.Confidence, e.ClassificationSource)
	}
	tw.Flush()
	fmt.Println(strings.Repeat("-", 60))
}
