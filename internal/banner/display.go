// Package banner provides colored banner display functions for the metatrain CLI.
//
// All banner functions write formatted output to stdout with color-coded headers
// and separators. They mark the major transitions of a training run: startup,
// resume, interruption, and completion.
package banner

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/benchrl/metatrain/internal/logging"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	successColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnColor    = color.New(color.FgYellow, color.Bold).SprintFunc()
)

// PrintStartupBanner displays the startup banner with run info.
//
// Example output:
//
//	═══════════════════════════════════════════════════
//	  metatrain - Resumable RL Training Runs
//	═══════════════════════════════════════════════════
//	  Run:        reach_mt10
//	  Algorithm:  offpolicy
//	  Seed:       42
//	  Steps:      1000000
//	═══════════════════════════════════════════════════
func PrintStartupBanner(runName string, algorithm string, seed int64, totalSteps int) {
	sep := headerColor("═══════════════════════════════════════════════════")
	fmt.Println(sep)
	fmt.Println(headerColor("  metatrain - Resumable RL Training Runs"))
	fmt.Println(sep)
	fmt.Printf("  Run:        %s\n", runName)
	fmt.Printf("  Algorithm:  %s\n", algorithm)
	fmt.Printf("  Seed:       %d\n", seed)
	fmt.Printf("  Steps:      %d\n", totalSteps)
	fmt.Println(sep)
}

// PrintResumeBanner displays the resume banner after a successful restore.
func PrintResumeBanner(runID string, step int, episodesEnded int) {
	sep := headerColor("═══════════════════════════════════════════════════")
	fmt.Println(sep)
	fmt.Println(headerColor("  ↻ Resuming from checkpoint"))
	fmt.Println(sep)
	fmt.Printf("  Run ID:     %s\n", runID)
	fmt.Printf("  Step:       %d\n", step)
	fmt.Printf("  Episodes:   %d\n", episodesEnded)
	fmt.Println(sep)
}

// PrintInterruptedBanner displays the interruption banner with the last
// completed step, so the operator knows where a resume will pick up.
func PrintInterruptedBanner(step int) {
	sep := warnColor("═══════════════════════════════════════════════════")
	fmt.Println(sep)
	fmt.Println(warnColor("  ⚠ Run interrupted"))
	fmt.Printf("  Last completed step: %d\n", step)
	fmt.Println("  Re-run with --resume to continue.")
	fmt.Println(sep)
}

// PrintCompletionBanner displays the completion banner with final stats.
func PrintCompletionBanner(steps int, durationSecs int, metrics map[string]float64) {
	sep := successColor("═══════════════════════════════════════════════════")
	fmt.Println(sep)
	fmt.Println(successColor("  ✓ Training run complete"))
	fmt.Printf("  Steps:      %d\n", steps)
	fmt.Printf("  Duration:   %s (%ds)\n", logging.FormatDuration(durationSecs), durationSecs)
	if len(metrics) > 0 {
		fmt.Printf("  Metrics:    %s\n", logging.FormatMetrics(metrics))
	}
	fmt.Println(sep)
}

// StatusInfo carries the fields shown by PrintStatusBanner.
type StatusInfo struct {
	RunName       string
	Seed          int64
	Step          int
	EpisodesEnded int
	Timestamp     string
}

// PrintStatusBanner displays the latest checkpoint's metadata for a run.
func PrintStatusBanner(info StatusInfo) {
	sep := headerColor("═══════════════════════════════════════════════════")
	fmt.Println(sep)
	fmt.Println(headerColor("  Run status"))
	fmt.Println(sep)
	fmt.Printf("  Run:        %s\n", info.RunName)
	fmt.Printf("  Seed:       %d\n", info.Seed)
	fmt.Printf("  Step:       %d\n", info.Step)
	fmt.Printf("  Episodes:   %d\n", info.EpisodesEnded)
	fmt.Printf("  Timestamp:  %s\n", info.Timestamp)
	fmt.Println(sep)
}
