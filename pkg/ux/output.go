// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the lseval CLI.
//
// Everything printed here is for people watching a run: the banner, one line
// per pipeline step and the final summary. Diagnostics go through
// pkg/logging instead. In machine style every line is a plain
// "KEY: value" record so CI jobs can grep the output.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	TableHead  lipgloss.Style
	TableCell  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	TableHead: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	TableCell: lipgloss.NewStyle().Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconArrow:
		return Styles.Subtitle.Render(string(i))
	default:
		return string(i)
	}
}

// -----------------------------------------------------------------------------
// Output destinations
// -----------------------------------------------------------------------------

var (
	outMu  sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects console output. A nil writer restores the default.
func SetOutput(out, errOut io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout, stderr = out, errOut
}

func printOut(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

func printErr(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stderr, format, args...)
}

// -----------------------------------------------------------------------------
// Print helpers that respect personality level
// -----------------------------------------------------------------------------

// Banner prints the program name and version. Full style only.
func Banner(version string) {
	if GetPersonality().Level != PersonalityFull {
		return
	}
	title := Styles.Title.Render("lseval") + " " + Styles.Muted.Render(version)
	subtitle := Styles.Subtitle.Render("Lightspeed evaluation with LLM judges")
	printOut("%s\n", Styles.Box.Render(title+"\n"+subtitle))
}

// Step announces a pipeline stage ("Loading configuration").
func Step(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("STEP: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconArrow, text)
	default:
		printOut("%s %s\n", IconArrow.Render(), text)
	}
}

// Detail prints an indented key/value line below a step. Hidden in minimal
// style.
func Detail(key string, value any) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("%s: %v\n", strings.ToUpper(strings.ReplaceAll(key, " ", "_")), value)
	case PersonalityMinimal:
		return
	default:
		printOut("  %s %s\n", Styles.Muted.Render(key+":"), fmt.Sprint(value))
	}
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("OK: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconSuccess, text)
	default:
		printOut("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("WARN: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconWarning, text)
	default:
		printOut("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message to stderr in every style.
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("ERROR: %s\n", text)
	case PersonalityMinimal:
		printErr("%s %s\n", IconError, text)
	default:
		printErr("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(strings.Repeat("█", max(filled, 0))) +
		Styles.Muted.Render(strings.Repeat("░", max(empty, 0)))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

// -----------------------------------------------------------------------------
// Run summary
// -----------------------------------------------------------------------------

// MetricLine is one row of the per-metric table in the run summary.
type MetricLine struct {
	Metric string
	Pass   int
	Fail   int
	Error  int
}

// RunSummary is what the evaluate command prints once the run finishes.
type RunSummary struct {
	Provider      string
	Model         string
	Conversations int
	Evaluations   int
	ReportDir     string
	Pass          int
	Fail          int
	Error         int
	Metrics       []MetricLine
	Files         []string
}

// PrintRunSummary prints the final run summary.
//
// Description:
//
//	Every style prints the judge, the conversation and evaluation counts,
//	the report directory and the PASS/FAIL/ERROR counts. Full style adds
//	the per-metric table and a pass-rate bar. A warning follows when any
//	evaluation ended in ERROR.
//
// Inputs:
//
//	s - Summary values.
func PrintRunSummary(s RunSummary) {
	p := GetPersonality()

	if p.Level == PersonalityMachine {
		printOut("SUMMARY: provider=%s model=%s conversations=%d evaluations=%d pass=%d fail=%d error=%d report_dir=%s\n",
			s.Provider, s.Model, s.Conversations, s.Evaluations, s.Pass, s.Fail, s.Error, s.ReportDir)
		for _, m := range s.Metrics {
			printOut("METRIC: %s pass=%d fail=%d error=%d\n", m.Metric, m.Pass, m.Fail, m.Error)
		}
		if p.ShowReportPaths {
			for _, f := range s.Files {
				printOut("FILE: %s\n", f)
			}
		}
		if s.Error > 0 {
			printErr("WARN: %d evaluation(s) ended in ERROR\n", s.Error)
		}
		return
	}

	lines := []string{
		fmt.Sprintf("%s %s/%s", Styles.Muted.Render("Judge:"), s.Provider, s.Model),
		fmt.Sprintf("%s %d", Styles.Muted.Render("Conversation groups:"), s.Conversations),
		fmt.Sprintf("%s %d", Styles.Muted.Render("Evaluations:"), s.Evaluations),
		fmt.Sprintf("%s %s", Styles.Muted.Render("Reports:"), s.ReportDir),
		fmt.Sprintf("%s  %s  %s",
			Styles.Success.Render(fmt.Sprintf("Pass: %d", s.Pass)),
			Styles.Warning.Render(fmt.Sprintf("Fail: %d", s.Fail)),
			Styles.Error.Render(fmt.Sprintf("Error: %d", s.Error)),
		),
	}

	switch p.Level {
	case PersonalityMinimal:
		printOut("%s\n", strings.Join(lines, "\n"))
	case PersonalityStandard:
		printOut("%s\n", Styles.Box.Render(Styles.Title.Render("Evaluation complete")+"\n"+strings.Join(lines, "\n")))
	default:
		lines = append(lines, "", ProgressBar(s.Pass, s.Evaluations, 30)+" "+Styles.Muted.Render("pass rate"))
		printOut("%s\n", Styles.Box.Render(Styles.Title.Render("Evaluation complete")+"\n"+strings.Join(lines, "\n")))
		if len(s.Metrics) > 0 {
			printOut("%s\n", MetricTable(s.Metrics))
		}
	}

	if p.ShowReportPaths && p.Level != PersonalityMinimal {
		for _, f := range s.Files {
			printOut("  %s %s\n", IconBullet, f)
		}
	}

	if s.Error > 0 {
		Warning(fmt.Sprintf("%d evaluation(s) ended in ERROR; see the detailed report for reasons", s.Error))
	}
}

// MetricTable renders per-metric counts as a bordered table.
func MetricTable(rows []MetricLine) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
		Headers("METRIC", "PASS", "FAIL", "ERROR").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.TableHead
			}
			return Styles.TableCell
		})
	for _, r := range rows {
		t.Row(r.Metric, fmt.Sprint(r.Pass), fmt.Sprint(r.Fail), fmt.Sprint(r.Error))
	}
	return t.String()
}
