package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/app"
	"github.com/miradorstack/mirador-triage/internal/models"
)

var investigateTopK int

var analyzeCmd = &cobra.Command{
	Use:   "analyze [FILE...]",
	Short: "Run log files through the funnel and print one JSON result per line",
	Long: `Analyze reads every FILE (or standard input when none is given or FILE is "-"),
runs all lines through the funnel as one batch and prints the results as JSON lines.
The similarity index is saved on exit.`,
	RunE: runAnalyze,
}

var investigateCmd = &cobra.Command{
	Use:   "investigate LINE",
	Short: "Print the stored cases closest to a log line",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvestigate,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Mine the stored cases into attack patterns",
	Args:  cobra.NoArgs,
	RunE:  runPatterns,
}

func init() {
	investigateCmd.Flags().IntVar(&investigateTopK, "top-k", models.DefaultTopK, "Number of cases to return")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		lines, sources, err := readInputs(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for i, batch := range lines {
			resp, err := a.Service.Analyze(ctx, models.AnalyzeRequest{Logs: batch, Source: sources[i]})
			if err != nil {
				return err
			}
			for _, r := range resp.Results {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		resp, err := a.Service.Investigate(ctx, models.InvestigateRequest{Log: args[0], TopK: investigateTopK})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp.Cases)
	})
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		resp, err := a.Service.Patterns(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp.Patterns)
	})
}

// withApp builds the engine, runs fn and always closes the engine so the index is flushed.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// readInputs returns the lines of each input together with its provenance.
func readInputs(stdin io.Reader, paths []string) ([][]string, []string, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	var batches [][]string
	var sources []string
	for _, path := range paths {
		source, lines, err := readInput(stdin, path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", source, err)
		}
		batches = append(batches, lines)
		sources = append(sources, source)
	}
	return batches, sources, nil
}

func readInput(stdin io.Reader, path string) (string, []string, error) {
	if path == "-" {
		lines, err := scanLines(stdin)
		return "stdin", lines, err
	}
	f, err := os.Open(path)
	if err != nil {
		return path, nil, err
	}
	defer f.Close()
	lines, err := scanLines(f)
	return path, lines, err
}

func scanLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lines := []string{}
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
