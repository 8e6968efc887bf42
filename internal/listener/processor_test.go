package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_OK(t *testing.T) {
	got, err := decodeMessage([]byte(`{"requestId":"abc-123","ok":true}`), "requestId")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.ExtractedID)
}

func TestDecodeMessage_MissingField(t *testing.T) {
	_, err := decodeMessage([]byte(`{"ok":true}`), "requestId")
	assert.ErrorIs(t, err, ErrMissingIDField)
}

func TestDecodeMessage_FieldWrongType(t *testing.T) {
	_, err := decodeMessage([]byte(`{"requestId":123}`), "requestId")
	assert.ErrorIs(t, err, ErrMissingIDField)
}

func TestDecodeMessage_InvalidJSON(t *testing.T) {
	_, err := decodeMessage([]byte(`not json`), "requestId")
	assert.Error(t, err)
}

