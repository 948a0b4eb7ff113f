package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteError_Is(t *testing.T) {
	tests := []struct {
		name      string
		op        RemoteOp
		wantRead  bool
		wantWrite bool
	}{
		{"read", OpRead, true, false},
		{"create", OpCreate, false, true},
		{"update", OpUpdate, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &RemoteError{Op: tt.op, Collection: "orders"})
			assert.Equal(t, tt.wantRead, errors.Is(err, ErrRemoteRead))
			assert.Equal(t, tt.wantWrite, errors.Is(err, ErrRemoteWrite))
		})
	}
}

func TestRemoteError_Message(t *testing.T) {
	err := &RemoteError{Op: OpCreate, Collection: "order_items", StatusCode: 403, Err: errors.New("forbidden")}
	assert.Equal(t, `item store create on "order_items" failed with status 403: forbidden`, err.Error())
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsValidation(fmt.Errorf("x: %w", NewValidationError("items", "empty"))))
	assert.False(t, IsValidation(errors.New("plain")))
	assert.True(t, IsProductNotFound(&ProductNotFoundError{ProductID: "P9"}))
	assert.Equal(t, "product with ID P9 not found", (&ProductNotFoundError{ProductID: "P9"}).Error())
}
