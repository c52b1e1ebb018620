package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mriqa/pkg/config"
	"mriqa/pkg/evaluation"
	"mriqa/pkg/plotting"
)

func main() {
	// Parse command line arguments
	dataDir := flag.String("data", "", "Path to the BIDS-like dataset directory")
	outputDir := flag.String("output", "", "Directory receiving the metrics table and plot images")
	configPath := flag.String("config", "mriqa.yaml", "Optional YAML configuration file")
	workers := flag.Int("workers", 0, "Number of subjects to process concurrently (default: from config)")
	flag.Parse()

	// Validate inputs
	if *dataDir == "" || *outputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}

	fmt.Println("================================")
	fmt.Println("MRI IMAGE QUALITY ASSESSMENT")
	fmt.Println("EFC / SNR / CNR / CJV over a BIDS-like dataset")
	fmt.Println("================================")

	params := &evaluation.Params{
		DataDir:   *dataDir,
		OutputDir: *outputDir,
		Config:    cfg,
	}

	runner := evaluation.NewRunner(params)

	fmt.Printf("Evaluating dataset %s with %d workers...\n", *dataDir, cfg.Processing.NumWorkers)
	startTime := time.Now()
	if err := runner.Process(); err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	processingTime := time.Since(startTime)

	rows := runner.Rows()
	failed := 0
	for _, row := range rows {
		if row.Failed() {
			failed++
		}
	}

	fmt.Printf("\nEvaluation completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Metrics table: %s (%d rows, %d with errors)\n", runner.TablePath(), len(rows), failed)

	fmt.Printf("\nSummary statistics:\n")
	fmt.Printf("===================\n")
	for _, s := range evaluation.Summarize(rows, cfg.Metrics) {
		fmt.Printf("%-4s n=%-4d mean=%-10.4f std=%.4f\n", s.Metric, s.N, s.Mean, s.Std)
	}

	fmt.Println("\nRendering plots...")
	if err := plotting.CreateAllPlots(rows, cfg, *outputDir); err != nil {
		log.Fatalf("Plotting failed: %v", err)
	}
	fmt.Printf("Plots written to %s\n", *outputDir)
}
