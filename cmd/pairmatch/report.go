package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/gamerunner"
)

type buildSimulationReportInput struct {
	Strategy          string
	Seed              *int64
	SessionsRequested int
	Result            gamerunner.RunSessionsResult
	Elapsed           time.Duration
}

type simulationReport struct {
	Strategy          string                    `json:"strategy"`
	Seed              *int64                    `json:"seed,omitempty"`
	SessionsRequested int                       `json:"sessions_requested"`
	SessionsCompleted int                       `json:"sessions_completed"`
	TotalReveals      int                       `json:"total_reveals"`
	TotalFallbacks    int                       `json:"total_fallbacks"`
	TotalTriedTimes   int                       `json:"total_tried_times"`
	MeanTriedTimes    float64                   `json:"mean_tried_times"`
	BestTriedTimes    int                       `json:"best_tried_times"`
	WorstTriedTimes   int                       `json:"worst_tried_times"`
	ElapsedMS         int64                     `json:"elapsed_ms"`
	Sessions          []simulationReportSession `json:"sessions"`
}

type simulationReportSession struct {
	SessionID  string           `json:"session_id"`
	FinalState domain.GameState `json:"final_state"`
	Score      int              `json:"score"`
	TriedTimes int              `json:"tried_times"`
	Reveals    int              `json:"reveals"`
	Fallbacks  int              `json:"fallbacks"`
	DurationUS int64            `json:"duration_us"`
}

func buildSimulationReport(input buildSimulationReportInput) simulationReport {
	report := simulationReport{
		Strategy:          input.Strategy,
		Seed:              input.Seed,
		SessionsRequested: input.SessionsRequested,
		SessionsCompleted: input.Result.SessionsCompleted,
		TotalReveals:      input.Result.TotalReveals,
		TotalFallbacks:    input.Result.TotalFallbacks,
		TotalTriedTimes:   input.Result.TotalTriedTimes,
		ElapsedMS:         input.Elapsed.Milliseconds(),
		Sessions:          make([]simulationReportSession, 0, len(input.Result.Summaries)),
	}

	for i, summary := range input.Result.Summaries {
		report.Sessions = append(report.Sessions, simulationReportSession{
			SessionID:  summary.SessionID,
			FinalState: summary.FinalState,
			Score:      summary.Score,
			TriedTimes: summary.TriedTimes,
			Reveals:    summary.RevealCount,
			Fallbacks:  summary.FallbackCount,
			DurationUS: summary.Duration.Microseconds(),
		})
		if i == 0 || summary.TriedTimes < report.BestTriedTimes {
			report.BestTriedTimes = summary.TriedTimes
		}
		if summary.TriedTimes > report.WorstTriedTimes {
			report.WorstTriedTimes = summary.TriedTimes
		}
	}
	if report.SessionsCompleted > 0 {
		report.MeanTriedTimes = float64(report.TotalTriedTimes) / float64(report.SessionsCompleted)
	}
	return report
}

func renderSimulationOutput(report simulationReport) string {
	var b strings.Builder
	w := 44

	b.WriteString("\n")
	b.WriteString("  +" + strings.Repeat("-", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |%-*s|\n", w, centerReportText("PAIR MATCH SIMULATION", w)))
	b.WriteString("  +" + strings.Repeat("-", w) + "+\n")
	b.WriteString(fmt.Sprintf("  |  Strategy:         %-*s|\n", w-20, report.Strategy))
	if report.Seed != nil {
		b.WriteString(fmt.Sprintf("  |  Seed:             %-*d|\n", w-20, *report.Seed))
	}
	b.WriteString(fmt.Sprintf("  |  Sessions:         %-*s|\n", w-20, fmt.Sprintf("%s / %s", humanize.Comma(int64(report.SessionsCompleted)), humanize.Comma(int64(report.SessionsRequested)))))
	b.WriteString(fmt.Sprintf("  |  Total Reveals:    %-*s|\n", w-20, humanize.Comma(int64(report.TotalReveals))))
	b.WriteString(fmt.Sprintf("  |  Total Fallbacks:  %-*s|\n", w-20, humanize.Comma(int64(report.TotalFallbacks))))
	b.WriteString(fmt.Sprintf("  |  Tries (mean):     %-*s|\n", w-20, humanize.FormatFloat("#,###.##", report.MeanTriedTimes)))
	b.WriteString(fmt.Sprintf("  |  Tries (best):     %-*d|\n", w-20, report.BestTriedTimes))
	b.WriteString(fmt.Sprintf("  |  Tries (worst):    %-*d|\n", w-20, report.WorstTriedTimes))
	b.WriteString(fmt.Sprintf("  |  Elapsed:          %-*s|\n", w-20, (time.Duration(report.ElapsedMS) * time.Millisecond).String()))
	b.WriteString("  +" + strings.Repeat("-", w) + "+\n")
	return b.String()
}

func centerReportText(text string, width int) string {
	l := len([]rune(text))
	if l >= width {
		return text
	}
	left := (width - l) / 2
	right := width - l - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}

func writeSimulationReportJSON(path string, report simulationReport) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
