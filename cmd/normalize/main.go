// Command normalize reads a realtime database JSON export and prints the
// normalized table, optionally restricted to a time range.
//
// Usage:
//
//	go run ./cmd/normalize -input soil_data.json -start 2023-11-14 -end 1700100000
//	go run ./cmd/normalize -input soil_data.json -xlsx readings.xlsx
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/soil-telemetry-service/internal/adapter/xlsx"
	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
)

type options struct {
	input    string
	start    string
	end      string
	xlsxPath string
}

func main() {
	var opts options
	flag.StringVar(&opts.input, "input", "-", "JSON export to read, - for stdin")
	flag.StringVar(&opts.start, "start", "", "keep readings at or after this time (epoch seconds or date)")
	flag.StringVar(&opts.end, "end", "", "keep readings at or before this time (epoch seconds or date)")
	flag.StringVar(&opts.xlsxPath, "xlsx", "", "write an XLSX workbook instead of JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(opts, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("normalize failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	start, err := parseBound(opts.start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	end, err := parseBound(opts.end)
	if err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}

	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	raw, err := decode(in)
	if err != nil {
		return err
	}

	table, report, err := domain.NormalizeWithReport(raw)
	if err != nil {
		return err
	}
	table = domain.FilterRange(table, start, end)
	logger.Info("normalized export",
		"received", report.Received,
		"kept", report.Kept,
		"dropped", report.DroppedTotal(),
		"in_range", len(table),
	)

	if opts.xlsxPath != "" {
		return xlsx.NewFileSink(opts.xlsxPath).Publish(context.Background(), table)
	}

	w := bufio.NewWriter(stdout)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(table); err != nil {
		return err
	}
	return w.Flush()
}

func decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode export: unexpected data after the first JSON value")
	}
	return v, nil
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, ok := domain.ParseInstant(s)
	if !ok {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return t, nil
}
