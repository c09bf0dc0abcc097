package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	nf := NewNotFound("Block", "ethereum@42")
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsDecodeError(nf))
	assert.Contains(t, nf.Error(), "Block")
	assert.Contains(t, nf.Error(), "ethereum@42")

	de := Decodef("invalid byte length for address! Found: 0x%x", []byte{0x01})
	assert.True(t, IsDecodeError(de))
	assert.False(t, IsNotFound(de))

	cause := errors.New("connection reset")
	se := NewStoreError("fetching slot changes", cause)
	assert.True(t, IsStoreError(se))
	assert.ErrorIs(t, se, cause)
}

func TestErrorKindsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("resolving start version: %w", NewNotFound("Block", "0xabc"))
	assert.True(t, IsNotFound(wrapped))

	var nf *NotFoundError
	assert.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "Block", nf.Entity)
}
