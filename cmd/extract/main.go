package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/export"
	"ledgerline/internal/extraction"
	"ledgerline/internal/pipeline"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/recognition"
	"ledgerline/internal/recognition/claude"
	"ledgerline/internal/recognition/gemini"
	"ledgerline/internal/recognition/openai"
	"ledgerline/internal/repository/bolt"
)

type options struct {
	file        string
	documentKey string
	backend     string
	apiKey      string
	model       string
	priorPath   string
	expected    string
	alignment   string
	tolerance   int
	threshold   float64
	timeout     time.Duration
	format      string
	logLevel    string
}

func main() {
	fs := ff.NewFlagSet("ledgerline-extract")
	var opts options
	fs.StringVar(&opts.file, 'f', "file", "", "invoice file to extract (pdf, jpg, png or txt)")
	fs.StringVar(&opts.documentKey, 'k', "key", "", "document key (defaults to the file name)")
	fs.StringVar(&opts.backend, 'b', "backend", config.BackendText, "recognition backend: none, text, claude, gemini or openai")
	fs.StringVar(&opts.apiKey, 0, "api-key", "", "API key for the recognition backend")
	fs.StringVar(&opts.model, 0, "model", "", "model name for the recognition backend")
	fs.StringVar(&opts.priorPath, 0, "prior-db", "ledgerline.db", "local store of earlier drafts")
	fs.StringVar(&opts.expected, 'e', "expected", "", "XLSX workbook listing expected line items in its first column")
	fs.StringVar(&opts.alignment, 0, "alignment", string(domain.AlignmentSourcePrior), "alignment source: none, layout or prior")
	fs.IntVar(&opts.tolerance, 0, "tolerance", 1, "arithmetic tolerance in minor units")
	fs.Float64Var(&opts.threshold, 0, "threshold", 0.6, "description similarity needed to match an expected item")
	fs.DurationVar(&opts.timeout, 't', "timeout", 30*time.Second, "pipeline timeout")
	fs.StringVar(&opts.format, 'o', "output", "json", "output format: json or csv")
	fs.StringVar(&opts.logLevel, 0, "log-level", "warn", "log level")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("LEDGERLINE")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	appLog := logger.New(&config.LogConfig{Level: opts.logLevel, Output: "stderr"})
	defer func() { _ = appLog.Sync() }()

	if err := run(context.Background(), opts, os.Stdout, appLog); err != nil {
		appLog.Error("extract", "extraction failed", map[string]interface{}{"error": err.Error()})
		_ = appLog.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer, log logger.Logger) error {
	if opts.file == "" {
		return fmt.Errorf("%w: --file is required", domain.ErrInvalidInput)
	}
	if opts.documentKey == "" {
		opts.documentKey = filepath.Base(opts.file)
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.file, err)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(opts.file), "."))
	fileType, ok := domain.AllowedExtensions[ext]
	if !ok {
		return fmt.Errorf("%s: %w", opts.file, domain.ErrUnsupportedFileType)
	}

	claude.Register()
	gemini.Register()
	openai.Register()
	backend, err := recognition.NewBackend(&config.BackendProviderConfig{
		Provider:     opts.backend,
		APIKey:       opts.apiKey,
		DefaultModel: opts.model,
		TimeoutSecs:  int(opts.timeout.Seconds()) + 30,
	})
	if err != nil {
		return err
	}
	doc, err := backend.Recognize(ctx, domain.RawImage{
		Data:        data,
		ContentType: domain.FileContentTypes[fileType],
		FileName:    filepath.Base(opts.file),
	})
	if err != nil {
		// Recognition errors are reported in the draft.
		log.Warn("extract", "recognition failed", map[string]interface{}{"file": opts.file, "error": err.Error()})
		draft := domain.NewDraft()
		draft.Backend = opts.backend
		draft.Fail(domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckBackendError,
			domain.StageNone, "recognition: %v", err))
		stamp(draft, opts.documentKey)
		return write(out, draft, opts.format)
	}

	store, err := bolt.NewPriorStore(opts.priorPath)
	if err != nil {
		return err
	}
	defer store.Close()

	in := pipeline.Input{Document: *doc}
	switch domain.AlignmentSource(opts.alignment) {
	case domain.AlignmentSourceLayout:
		if in.Expectation, err = readExpected(opts.expected); err != nil {
			return err
		}
	case domain.AlignmentSourcePrior:
		if in.Expectation, err = readExpected(opts.expected); err != nil {
			return err
		}
		prior, err := store.Latest(opts.documentKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		in.Prior = prior
	case domain.AlignmentSourceNone:
	default:
		return fmt.Errorf("%w: unknown alignment source %q", domain.ErrInvalidInput, opts.alignment)
	}

	p := pipeline.New(pipeline.Config{
		Timeout:        opts.timeout,
		Tolerance:      domain.Money(opts.tolerance),
		MatchThreshold: opts.threshold,
	}, pipeline.WithLogger(log))
	draft := p.Run(ctx, in)
	stamp(draft, opts.documentKey)

	if len(draft.LineItems) > 0 && (draft.Status == domain.DraftStatusParsed || draft.Status == domain.DraftStatusFailed) {
		if err := store.Save(draft); err != nil {
			return err
		}
	}

	return write(out, draft, opts.format)
}

func stamp(draft *domain.InvoiceDraft, documentKey string) {
	draft.ID = uuid.New()
	draft.DocumentKey = documentKey
	draft.Attempts = 1
	draft.CreatedAt = time.Now().UTC()
	draft.UpdatedAt = draft.CreatedAt
}

func write(out io.Writer, draft *domain.InvoiceDraft, format string) error {
	switch format {
	case "csv":
		w := export.NewWriter(out)
		if _, err := out.Write(export.BOM); err != nil {
			return err
		}
		if err := w.WriteHeader(); err != nil {
			return err
		}
		if err := w.WriteDrafts([]domain.InvoiceDraft{*draft}); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(draft)
	}
}

// readExpected loads an expectation workbook when a path is given.
func readExpected(path string) (*extraction.Expectation, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening expected items: %w", err)
	}
	defer f.Close()
	return export.ReadExpectationXLSX(f)
}
