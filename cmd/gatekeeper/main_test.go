package main

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper/internal/config"
	"gatekeeper/internal/gate"
)

func TestRun_ReturnsStartupErrors(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Redis.URL = mr.Addr()
	cfg.Gate.MaxFailedAttempts = 0

	err := run(&cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, gate.ErrInvalidMaxAttempts)
}
