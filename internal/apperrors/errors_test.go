package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindSelection, "no usable route tables")
	assert.Equal(t, "selection: no usable route tables", plain.Error())

	wrapped := Wrap(KindCollection, errors.New("throttled"), "lookup failed")
	assert.Equal(t, "collection: lookup failed: throttled", wrapped.Error())
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindProvisioning, cause, "create call failed")

	assert.True(t, errors.Is(err, cause))

	// Classification survives another layer of fmt wrapping.
	outer := fmt.Errorf("step failed: %w", err)
	assert.True(t, IsKind(outer, KindProvisioning))
	assert.False(t, IsKind(outer, KindCollection))
	assert.Equal(t, KindProvisioning, KindOf(outer))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindParse))
}

func TestWithDetail(t *testing.T) {
	err := Newf(KindResolution, "instance %s not found", "i-abc").
		WithDetail("instance_id", "i-abc").
		WithDetail("region", "us-east-1")

	assert.Equal(t, "i-abc", err.Details["instance_id"])
	assert.Equal(t, "us-east-1", err.Details["region"])
}
