package recognition_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/domain"
	"ledgerline/internal/recognition"
	"ledgerline/mocks"
)

func TestDualPassBackend_AttachesSecondaryLines(t *testing.T) {
	primary, secondary := new(mocks.MockRecognitionBackend), new(mocks.MockRecognitionBackend)
	primary.On("Recognize", mock.Anything, testImage).
		Return(&domain.RawDocument{Backend: "claude", Lines: []domain.RawLine{{Text: "Widget 3 5.00 15.00"}}}, nil)
	secondary.On("Recognize", mock.Anything, testImage).
		Return(&domain.RawDocument{Backend: "gemini", Lines: []domain.RawLine{{Text: "Widget 3 5.00 15.0O"}}}, nil)

	d := recognition.NewDualPassBackend(primary, secondary, "claude", "gemini", nil)
	doc, err := d.Recognize(context.Background(), testImage)

	require.NoError(t, err)
	assert.Equal(t, "claude", doc.Backend)
	assert.Equal(t, "Widget 3 5.00 15.00", doc.Lines[0].Text)
	require.Len(t, doc.Secondary, 1)
	assert.Equal(t, "Widget 3 5.00 15.0O", doc.Secondary[0].Text)
}

func TestDualPassBackend_OnePassFails(t *testing.T) {
	primary, secondary := new(mocks.MockRecognitionBackend), new(mocks.MockRecognitionBackend)
	primary.On("Recognize", mock.Anything, testImage).Return(nil, errors.New("timeout"))
	secondary.On("Recognize", mock.Anything, testImage).
		Return(&domain.RawDocument{Backend: "gemini", Lines: []domain.RawLine{{Text: "Total 1.00"}}}, nil)

	d := recognition.NewDualPassBackend(primary, secondary, "claude", "gemini", nil)
	doc, err := d.Recognize(context.Background(), testImage)

	require.NoError(t, err)
	assert.Equal(t, "gemini", doc.Backend)
	assert.Empty(t, doc.Secondary)
}

func TestDualPassBackend_BothFail(t *testing.T) {
	primary, secondary := new(mocks.MockRecognitionBackend), new(mocks.MockRecognitionBackend)
	primary.On("Recognize", mock.Anything, testImage).Return(nil, errors.New("timeout"))
	secondary.On("Recognize", mock.Anything, testImage).Return(nil, errors.New("quota"))

	d := recognition.NewDualPassBackend(primary, secondary, "claude", "gemini", nil)
	_, err := d.Recognize(context.Background(), testImage)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "both passes failed")
}
