package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/config"
	"ledgerline/internal/domain"
	"ledgerline/internal/pkg/logger"
)

func testOptions(t *testing.T, name string, data []byte) options {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(file, data, 0o600))
	return options{
		file:      file,
		backend:   config.BackendText,
		priorPath: filepath.Join(dir, "prior.db"),
		alignment: string(domain.AlignmentSourceNone),
		tolerance: 1,
		threshold: 0.6,
		timeout:   time.Second,
		format:    "json",
	}
}

func TestRun_RecognitionErrorEmitsFailedDraft(t *testing.T) {
	// The text backend rejects image content.
	opts := testOptions(t, "invoice.png", []byte{0x89, 'P', 'N', 'G'})
	var out bytes.Buffer

	err := run(context.Background(), opts, &out, logger.Nop())

	require.NoError(t, err)
	var draft domain.InvoiceDraft
	require.NoError(t, json.Unmarshal(out.Bytes(), &draft))
	assert.Equal(t, domain.DraftStatusFailed, draft.Status)
	require.NotNil(t, draft.Error)
	assert.Equal(t, domain.KindBackendUnavailable, draft.Error.Kind)
	assert.Equal(t, domain.CheckBackendError, draft.Error.Check)
	assert.Equal(t, "invoice.png", draft.DocumentKey)
	assert.Empty(t, draft.LineItems)
}

func TestRun_ParsesTextInvoice(t *testing.T) {
	opts := testOptions(t, "invoice.txt", []byte("ACME FOODS LTD\n"+
		"Invoice No: INV-1042\n"+
		"Description Qty Price Total\n"+
		"Widget 3 5.00 15.00\n"+
		"Gadget 2 10.00 20.00\n"+
		"Subtotal 35.00\n"+
		"VAT 20% 7.00\n"+
		"Total 42.00\n"))
	var out bytes.Buffer

	err := run(context.Background(), opts, &out, logger.Nop())

	require.NoError(t, err)
	var draft domain.InvoiceDraft
	require.NoError(t, json.Unmarshal(out.Bytes(), &draft))
	assert.Equal(t, domain.DraftStatusParsed, draft.Status)
	assert.Equal(t, "INV-1042", draft.InvoiceNumber)
	assert.Len(t, draft.LineItems, 2)
}

func TestRun_MissingFile(t *testing.T) {
	err := run(context.Background(), options{}, &bytes.Buffer{}, logger.Nop())

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
