package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("reads kind through wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(KindGone, "link revoked"))
		assert.Equal(t, KindGone, KindOf(err))
		assert.True(t, Is(err, KindGone))
		assert.False(t, Is(err, KindForbidden))
		assert.Equal(t, "link revoked", MessageOf(err))
	})

	t.Run("foreign errors are store failures", func(t *testing.T) {
		err := errors.New("connection reset")
		assert.Equal(t, KindStore, KindOf(err))
		assert.False(t, Is(err, KindStore))
		assert.Equal(t, "internal error", MessageOf(err))
	})

	t.Run("nil has no kind", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(nil))
	})

	t.Run("wrap keeps the cause", func(t *testing.T) {
		cause := errors.New("timeout")
		err := Wrap(KindBlob, cause, "failed to delete blob")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "timeout")
	})
}
