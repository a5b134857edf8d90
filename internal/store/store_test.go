package store

import (
	"testing"

	"github.com/lexflow/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}
