package docerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappedSentinels(t *testing.T) {
	err := NotFound("version %s", "v1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "version v1")

	err = fmt.Errorf("approve: %w", Validation("status %q", "archived"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, ErrValidation, Kind(err))
}

func TestOpErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("persist version", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrPersistence, Kind(err))

	var opErr *OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "persist version", opErr.Op)
}

func TestNilCausesStayNil(t *testing.T) {
	assert.NoError(t, Persistence("noop", nil))
	assert.NoError(t, AlertDispatch("noop", nil))
	assert.Nil(t, Kind(errors.New("plain")))
}
