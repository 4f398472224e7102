package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"gender-classifier/internal/checkpoint"
	"gender-classifier/internal/common"
	"gender-classifier/internal/ledger"
)

func main() {
	var (
		statsPath   = flag.String("stats", common.DefaultStatsFile, "Statistics ledger path")
		backend     = flag.String("backend", common.DefaultLedgerBackend, "Ledger backend: json or bolt")
		historyPath = flag.String("history", common.DefaultCheckpointHistory, "Checkpoint history file")
		limit       = flag.Int("limit", 10, "Number of checkpoints to show")
	)
	flag.Parse()

	fmt.Printf("Inspecting ledger in: %s (%s)\n", *statsPath, *backend)

	store, err := ledger.Open(*backend, *statsPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer store.Close()

	l, err := store.Load(context.Background())
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}
	st := l.Stats()

	fmt.Println("\nLearning statistics:")
	fmt.Printf("  Total feedback:        %d\n", st.TotalFeedback)
	fmt.Printf("  Correct predictions:   %d\n", st.CorrectPredictions)
	fmt.Printf("  Incorrect predictions: %d\n", st.IncorrectPredictions)
	fmt.Printf("  Accuracy:              %.2f%%\n", st.Accuracy)
	fmt.Printf("  Online updates:        %d\n", st.OnlineTrainingCount)
	if st.LastUpdated != nil {
		fmt.Printf("  Last updated:          %s\n", st.LastUpdated.Format(time.RFC3339))
	}

	h, err := checkpoint.LoadHistory(*historyPath)
	if err != nil {
		log.Fatalf("Failed to load checkpoint history: %v", err)
	}
	entries := h.List()
	fmt.Printf("\nCheckpoints in %s: %d\n", filepath.Base(*historyPath), len(entries))
	if latest, ok := h.Latest(); ok {
		fmt.Printf("  Latest: %s (%s, %s ago)\n", latest.At.Format(time.RFC3339),
			latest.Reason, time.Since(latest.At).Round(time.Second))
	}
	for i, e := range entries {
		if i >= *limit {
			break
		}
		fmt.Printf("  %s  %-8s  updates=%d  backup=%s\n",
			e.At.Format(time.RFC3339), e.Reason, e.OnlineTrainingCount, e.Backup)
	}
}
