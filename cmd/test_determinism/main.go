package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"audio-forensics/sonar"
	"audio-forensics/wav"
)

// Checks that repeated analyses of one file produce byte-identical results,
// whatever the worker count.
func main() {
	numRuns := flag.Int("runs", 5, "Analyses per worker count")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: go run ./cmd/test_determinism [-runs N] <path-to-wav-file>")
	}

	testFile := flag.Arg(0)
	log.Printf("Testing determinism with: %s\n", testFile)

	audio, err := wav.DecodeFile(testFile)
	if err != nil {
		log.Fatalf("failed to decode %s: %v", testFile, err)
	}
	w, err := sonar.NewWaveform(audio.Samples, audio.SampleRate)
	if err != nil {
		log.Fatalf("failed to build waveform: %v", err)
	}

	var baseline []byte
	allIdentical := true

	for _, workers := range []int{1, 2, 4, 8} {
		cfg := sonar.DefaultConfig()
		cfg.Workers = workers
		analyzer, err := sonar.NewAnalyzer(cfg)
		if err != nil {
			log.Fatalf("invalid config: %v", err)
		}

		for i := 0; i < *numRuns; i++ {
			result, err := analyzer.Analyze(context.Background(), w)
			if err != nil {
				log.Fatalf("workers=%d run %d failed: %v", workers, i+1, err)
			}
			encoded, err := json.Marshal(result)
			if err != nil {
				log.Fatalf("failed to encode result: %v", err)
			}

			if baseline == nil {
				baseline = encoded
				log.Printf("Baseline: %d events, dominant %.2f Hz, %d bytes of JSON\n",
					result.DetectedSounds, result.DominantFrequency, len(encoded))
				continue
			}
			if !bytes.Equal(baseline, encoded) {
				allIdentical = false
				fmt.Printf("❌ workers=%d run %d differs from the baseline\n", workers, i+1)
			}
		}
	}

	fmt.Println("\n=== Determinism Check ===")
	if allIdentical {
		fmt.Println("✅ All runs produced IDENTICAL results (deterministic)")
		return
	}
	fmt.Println("❌ Analysis is NON-DETERMINISTIC")
	os.Exit(1)
}
