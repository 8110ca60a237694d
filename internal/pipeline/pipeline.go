package pipeline

import (
	"context"
	"errors"
	"time"

	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
	"ledgerline/internal/pkg/logger"
)

// Config holds the per-pipeline settings.
type Config struct {
	Timeout        time.Duration
	Tolerance      domain.Money
	MatchThreshold float64
}

// Input is one document to extract.
type Input struct {
	Document    domain.RawDocument
	Expectation *extraction.Expectation
	// Prior is an earlier draft of the same document, used for alignment when no
	// Expectation is given.
	Prior *domain.InvoiceDraft
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithHeaderExtractor replaces the pattern based header pass.
func WithHeaderExtractor(h extraction.HeaderExtractor) Option {
	return func(p *Pipeline) { p.header = h }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithStageHook registers fn to run after every completed stage.
func WithStageHook(fn func(domain.Stage)) Option {
	return func(p *Pipeline) { p.afterStage = fn }
}

// Pipeline runs the extraction stages in order. It holds no per-document state and is
// safe for concurrent use.
type Pipeline struct {
	cfg           Config
	header        extraction.HeaderExtractor
	normalizer    *extraction.Normalizer
	reconstructor *extraction.Reconstructor
	math          *extraction.MathValidator
	aligner       *extraction.Aligner
	assembler     *extraction.Assembler
	log           logger.Logger
	afterStage    func(domain.Stage)
}

// New creates a Pipeline.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:           cfg,
		header:        extraction.NewPatternHeaderExtractor(),
		normalizer:    extraction.NewNormalizer(),
		reconstructor: extraction.NewReconstructor(),
		math:          extraction.NewMathValidator(cfg.Tolerance),
		aligner:       extraction.NewAligner(cfg.MatchThreshold),
		assembler:     extraction.NewAssembler(),
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries stage outputs from one stage to the next.
type run struct {
	in          Input
	expectation *extraction.Expectation
	header      domain.Header
	normalized  extraction.NormalizedDocument
	rec         extraction.Reconstruction
	report      extraction.MathReport
	aligned     []extraction.AlignedItem
	scored      []extraction.ScoredItem
	classified  []extraction.ClassifiedItem
	confidence  int
}

type stage struct {
	name domain.Stage
	fn   func(*run, *domain.InvoiceDraft)
}

// Run extracts one document. The context is checked between stages only; when it
// expires the draft is returned as of the last completed stage with status timeout.
func (p *Pipeline) Run(ctx context.Context, in Input) *domain.InvoiceDraft {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	draft := domain.NewDraft()
	draft.Backend = in.Document.Backend
	r := &run{in: in, expectation: in.Expectation}
	if r.expectation.Empty() {
		r.expectation = extraction.ExpectationFromPrior(in.Prior)
	}

	for _, s := range p.stages() {
		if err := ctx.Err(); err != nil {
			p.timeout(draft, s.name, err)
			return draft
		}
		s.fn(r, draft)
		draft.Stage = s.name
		if p.afterStage != nil {
			p.afterStage(s.name)
		}
		if draft.Status == domain.DraftStatusFailed {
			break
		}
	}

	details := map[string]interface{}{
		"status":     draft.Status,
		"items":      len(draft.LineItems),
		"confidence": draft.Confidence,
		"backend":    draft.Backend,
	}
	if draft.Error != nil {
		details["error"] = draft.ErrorMessage
		p.log.Warn("pipeline", "extraction did not parse", details)
	} else {
		p.log.Info("pipeline", "extraction parsed", details)
	}
	return draft
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{domain.StageHeader, p.headerStage},
		{domain.StageNormalize, func(r *run, _ *domain.InvoiceDraft) {
			r.normalized = p.normalizer.Normalize(r.in.Document)
		}},
		{domain.StageReconstruct, func(r *run, _ *domain.InvoiceDraft) {
			r.rec = p.reconstructor.Reconstruct(r.normalized)
		}},
		{domain.StageMath, func(r *run, _ *domain.InvoiceDraft) {
			r.report = p.math.Validate(r.rec)
		}},
		{domain.StageAlign, func(r *run, _ *domain.InvoiceDraft) {
			r.aligned = p.aligner.Align(r.report.Items, r.expectation)
		}},
		{domain.StageScore, scoreStage},
		{domain.StageClassify, classifyStage},
		{domain.StageAssemble, p.assembleStage},
	}
}

// headerStage applies the header fields and stops a document no backend produced.
func (p *Pipeline) headerStage(r *run, draft *domain.InvoiceDraft) {
	r.header = p.header.Extract(r.in.Document)
	draft.ApplyHeader(r.header)
	if !r.in.Document.HasBackend() {
		draft.Fail(domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckNoBackend,
			domain.StageHeader, "no recognition backend configured"))
	}
}

func scoreStage(r *run, _ *domain.InvoiceDraft) {
	r.scored = make([]extraction.ScoredItem, len(r.aligned))
	for i, a := range r.aligned {
		r.scored[i] = extraction.ScoreItem(a)
	}
	r.confidence = extraction.DocumentScore(r.scored, len(r.report.Document.FailedChecks()))
}

func classifyStage(r *run, _ *domain.InvoiceDraft) {
	doc := r.report.Document
	vat := extraction.DocumentVAT{
		Total:      doc.VATTotal,
		HasRate:    doc.VATRate.Valid,
		Consistent: doc.VATConsistent,
	}
	r.classified = make([]extraction.ClassifiedItem, len(r.scored))
	for i, s := range r.scored {
		d, reason := extraction.Classify(s.AlignedItem, vat)
		r.classified[i] = extraction.ClassifiedItem{ScoredItem: s, Discrepancy: d, Reason: reason}
	}
}

func (p *Pipeline) assembleStage(r *run, draft *domain.InvoiceDraft) {
	warnings := append([]domain.Warning{}, r.normalized.Warnings...)
	warnings = append(warnings, r.rec.Warnings...)
	warnings = append(warnings, r.report.Warnings...)
	if r.header.Currency == "" {
		r.header.Currency = r.normalized.Currency
	}
	p.assembler.Assemble(draft, extraction.AssemblyInput{
		Header:         r.header,
		Items:          r.classified,
		CandidateCount: len(r.rec.Items),
		Document:       r.report.Document,
		Warnings:       warnings,
		Confidence:     r.confidence,
	})
}

func (p *Pipeline) timeout(draft *domain.InvoiceDraft, next domain.Stage, err error) {
	check := domain.CheckDeadlineExceeded
	if errors.Is(err, context.Canceled) {
		check = domain.CheckCanceled
	}
	draft.TimeOut(domain.NewExtractionError(domain.KindTimeout, check, next,
		"pipeline stopped before %s stage: %v", next, err))
	p.log.Warn("pipeline", "extraction timed out", map[string]interface{}{
		"next_stage": next,
		"last_stage": draft.Stage,
		"error":      err.Error(),
	})
}
