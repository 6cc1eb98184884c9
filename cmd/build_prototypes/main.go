package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-forensics/sonar"
	"audio-forensics/wav"
)

func main() {
	rootDir := flag.String("dir", "", "Root directory containing one subdirectory per label")
	outputFile := flag.String("out", filepath.Join("sonar", "prototypes.json"), "Output prototypes JSON file")
	k := flag.Int("k", 5, "Neighbours used when checking the model")
	appendMode := flag.Bool("append", false, "Add to an existing model file instead of replacing it")
	flag.Parse()

	if *rootDir == "" {
		log.Fatal("Usage: go run ./cmd/build_prototypes -dir <directory> [-out <file>] [-append]\n\n" +
			"Example structure:\n" +
			"  samples/\n" +
			"    voice/\n" +
			"      interview.wav\n" +
			"    percussive/\n" +
			"      door_slam.wav\n" +
			"    low_frequency/\n" +
			"      engine.wav\n")
	}

	subdirs, err := discoverSubdirectories(*rootDir)
	if err != nil {
		log.Fatalf("failed to read directory: %v", err)
	}
	if len(subdirs) == 0 {
		log.Fatalf("no subdirectories found in %s", *rootDir)
	}

	var classifier *sonar.PrototypeClassifier
	if *appendMode {
		classifier, err = sonar.NewPrototypeClassifierFromFile(*outputFile, *k)
	} else {
		classifier, err = sonar.NewPrototypeClassifier(nil, *k)
	}
	if err != nil {
		log.Fatalf("failed to prepare classifier: %v", err)
	}

	cfg := sonar.DefaultConfig()
	ctx := context.Background()
	added := 0

	for _, subdir := range subdirs {
		label := sonar.LabelFromName(filepath.Base(subdir))
		if label == sonar.LabelUnknown {
			log.Printf("Skipping %s: directory name does not map to a label\n", filepath.Base(subdir))
			continue
		}

		files, err := collectWAVFiles(subdir)
		if err != nil {
			log.Printf("  ERROR reading directory: %v\n", err)
			continue
		}
		log.Printf("Processing %s (label: %s, %d files)\n", filepath.Base(subdir), label, len(files))

		for i, path := range files {
			proto, err := buildFromFile(ctx, cfg, path, label)
			if errors.Is(err, sonar.ErrNoEvents) {
				log.Printf("  [%d/%d] %s: no events, skipped\n", i+1, len(files), filepath.Base(path))
				continue
			}
			if err != nil {
				log.Printf("  [%d/%d] %s: ERROR %v\n", i+1, len(files), filepath.Base(path), err)
				continue
			}
			if err := classifier.AddPrototype(proto); err != nil {
				log.Printf("  [%d/%d] %s: ERROR %v\n", i+1, len(files), filepath.Base(path), err)
				continue
			}
			added++
			log.Printf("  [%d/%d] %s: ok (%s dB at %ss)\n", i+1, len(files), filepath.Base(path),
				proto.Metadata["decibels"], proto.Metadata["time"])
		}
	}

	if added == 0 {
		log.Fatalf("no prototypes were created")
	}

	if err := classifier.Save(*outputFile); err != nil {
		log.Fatalf("failed to write output file: %v", err)
	}

	stats := classifier.Stats()
	log.Printf("Created %d prototypes, %d in %s\n", added, stats.PrototypeCount, *outputFile)
	log.Println("Label distribution:")
	for _, l := range stats.Labels {
		log.Printf("  %-22s: %d prototypes\n", l.Label, l.Prototypes)
	}
}

func buildFromFile(ctx context.Context, cfg sonar.Config, path string, label sonar.Label) (sonar.Prototype, error) {
	audio, err := wav.DecodeFile(path)
	if err != nil {
		return sonar.Prototype{}, err
	}
	w, err := sonar.NewWaveform(audio.Samples, audio.SampleRate)
	if err != nil {
		return sonar.Prototype{}, err
	}
	return sonar.BuildPrototype(ctx, cfg, w, label, path)
}

func discoverSubdirectories(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var subdirs []string
	for _, entry := range entries {
		// Skip hidden directories
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			subdirs = append(subdirs, filepath.Join(rootDir, entry.Name()))
		}
	}
	sort.Strings(subdirs)
	return subdirs, nil
}

func collectWAVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}
