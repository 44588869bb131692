package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"tradeengine/internal/config"
	"tradeengine/internal/engine"
)

type StartupSummary struct {
	Venue      string
	Symbols    []string
	Timeframes []string
	Weights    map[string]float64
	Threshold  float64
	Execution  string
	Approval   string
	Scan       string
	Monitor    string
	HTTPAddr   string
	Extras     []string
}

func newStartupSummary(cfg *config.Config, ec engine.Config, gateway string) *StartupSummary {
	tfs := make([]string, 0, len(ec.Timeframes))
	for _, tf := range ec.Timeframes {
		tfs = append(tfs, string(tf))
	}
	approval := "manual"
	switch {
	case ec.RequireUserConfirmation:
		approval = "user confirmation"
	case ec.AutoApprove:
		approval = "auto"
	}
	s := &StartupSummary{
		Venue:      ec.Venue.String(),
		Symbols:    ec.Symbols,
		Timeframes: tfs,
		Weights:    cfg.Confluence.Weights,
		Threshold:  cfg.Confluence.Threshold,
		Execution:  gateway,
		Approval:   approval,
		Scan:       ec.ScanInterval.String(),
		Monitor:    ec.MonitorInterval.String(),
		HTTPAddr:   cfg.App.HTTPAddr,
	}
	if cfg.Redis.Enabled {
		s.Extras = append(s.Extras, "redis execution guard")
	}
	if cfg.AI.Enabled {
		s.Extras = append(s.Extras, fmt.Sprintf("ai boost (%s, max %.2f)", cfg.AI.Provider, cfg.AI.MaxBoost))
	}
	if cfg.Notify.Telegram.Enabled {
		s.Extras = append(s.Extras, "telegram")
	}
	return s
}

func (s *StartupSummary) Print() { s.Fprint(os.Stdout) }

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "STARTUP SUMMARY"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[MARKET]")
	fmt.Fprintf(w, "  venue:      %s\n", s.Venue)
	fmt.Fprintf(w, "  symbols:    %s\n", formatList(s.Symbols))
	fmt.Fprintf(w, "  timeframes: %s\n", formatList(s.Timeframes))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[CONFLUENCE]")
	fmt.Fprintf(w, "  threshold:  %.2f\n", s.Threshold)
	if len(s.Weights) == 0 {
		fmt.Fprintln(w, "  weights:    (defaults)")
	} else {
		keys := make([]string, 0, len(s.Weights))
		for k := range s.Weights {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%.2f", k, s.Weights[k]))
		}
		fmt.Fprintf(w, "  weights:    %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[ENGINE]")
	fmt.Fprintf(w, "  execution:  %s\n", s.Execution)
	fmt.Fprintf(w, "  approval:   %s\n", s.Approval)
	fmt.Fprintf(w, "  scan every: %s, monitor every: %s\n", s.Scan, s.Monitor)
	fmt.Fprintf(w, "  http:       %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  extras:     %s\n", formatList(s.Extras))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
