package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestLogErrors(t *testing.T) {
	t.Parallel()

	t.Run("not found is detectable through wrapping", func(t *testing.T) {
		err := persistence.NewLogError("GetByID", "log-123", persistence.ErrLogNotFound)
		wrapped := fmt.Errorf("loading log: %w", err)

		assert.True(t, persistence.IsLogNotFound(err))
		assert.True(t, persistence.IsLogNotFound(wrapped))
		assert.True(t, errors.Is(wrapped, persistence.ErrLogNotFound))
		assert.False(t, errors.Is(wrapped, persistence.ErrLogAlreadyExists))
	})

	t.Run("log error contains context", func(t *testing.T) {
		err := persistence.NewLogError("Insert", "log-123", persistence.ErrLogAlreadyExists)

		assert.Contains(t, err.Error(), "Insert")
		assert.Contains(t, err.Error(), "log-123")
		assert.Contains(t, err.Error(), "log already exists")
	})

	t.Run("error without log id", func(t *testing.T) {
		err := persistence.NewLogError("ListExpired", "", errors.New("connection refused"))

		assert.Equal(t, "ListExpired operation failed: connection refused", err.Error())
		assert.False(t, persistence.IsLogNotFound(err))
	})
}
