package recognition

import (
	"context"
	"fmt"
	"sync"

	"ledgerline/internal/domain"
	"ledgerline/internal/pkg/logger"
	"ledgerline/internal/port"
)

// DualPassBackend runs two backends over the same image in parallel. The primary lines
// become the document; the secondary lines ride along as an independent pass used to
// raise or lower token confidence.
type DualPassBackend struct {
	primary       port.RecognitionBackend
	secondary     port.RecognitionBackend
	primaryName   string
	secondaryName string
	log           logger.Logger
}

// NewDualPassBackend creates a DualPassBackend.
func NewDualPassBackend(primary, secondary port.RecognitionBackend, primaryName, secondaryName string, log logger.Logger) *DualPassBackend {
	if log == nil {
		log = logger.Nop()
	}
	return &DualPassBackend{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		log:           log,
	}
}

// Recognize runs both passes. If only one succeeds its result is returned alone.
func (d *DualPassBackend) Recognize(ctx context.Context, img domain.RawImage) (*domain.RawDocument, error) {
	type result struct {
		doc *domain.RawDocument
		err error
	}

	var wg sync.WaitGroup
	var pResult, sResult result

	wg.Add(2)
	go func() {
		defer wg.Done()
		doc, err := d.primary.Recognize(ctx, img)
		pResult = result{doc, err}
	}()
	go func() {
		defer wg.Done()
		doc, err := d.secondary.Recognize(ctx, img)
		sResult = result{doc, err}
	}()
	wg.Wait()

	switch {
	case pResult.err != nil && sResult.err != nil:
		return nil, fmt.Errorf("both passes failed: %s: %v; %s: %w", d.primaryName, pResult.err, d.secondaryName, sResult.err)
	case pResult.err != nil:
		d.log.Warn("recognition", "primary pass failed, using secondary only", map[string]interface{}{
			"backend": d.primaryName,
			"error":   pResult.err.Error(),
		})
		return sResult.doc, nil
	case sResult.err != nil:
		d.log.Warn("recognition", "secondary pass failed, using primary only", map[string]interface{}{
			"backend": d.secondaryName,
			"error":   sResult.err.Error(),
		})
		return pResult.doc, nil
	}

	doc := *pResult.doc
	doc.Secondary = sResult.doc.Lines
	return &doc, nil
}
