// esol-report: one-shot assessment of a saved practice transcript
// Reads a JSON array of turns and prints the feedback report
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-esol/internal/config"
	"github.com/teslashibe/go-esol/internal/log"
	"github.com/teslashibe/go-esol/pkg/export"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

var (
	configPath = flag.String("config", "", "Path to a TOML config file")
	input      = flag.String("in", "-", "Transcript JSON file, - for stdin")
	format     = flag.String("format", "json", "Output format: json or text")
	title      = flag.String("title", "ESOL practice", "Title for text output")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level)

	if err := run(cfg, os.Stdout); err != nil {
		log.Error("no report", "error", err)
		fmt.Fprintln(os.Stderr, "no report")
		os.Exit(1)
	}
}

func run(cfg config.Config, w io.Writer) error {
	turns, err := readTurns(*input)
	if err != nil {
		return err
	}

	r, err := report.New(
		report.WithAPIKey(cfg.Gemini.APIKey),
		report.WithBaseURL(cfg.Gemini.BaseURL),
		report.WithModel(cfg.Gemini.ReportModel),
		report.WithTimeout(cfg.Session.ReportTimeout.Duration),
		report.WithLogger(log.L()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := r.Generate(ctx, turns)
	if err != nil {
		return err
	}

	switch *format {
	case "text":
		_, err = io.WriteString(w, export.FormatReport(*title, turns, rep))
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
}

func readTurns(path string) ([]transcript.Turn, error) {
	if path == "-" {
		return transcript.Decode(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return transcript.Decode(f)
}
