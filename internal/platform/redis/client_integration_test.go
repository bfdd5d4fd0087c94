//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livecheck/internal/platform/config"
	"livecheck/pkg/testutil/containers"
)

func TestNewConnects(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	c, err := New(ctx, config.RedisConfig{
		URL:          rc.Addr,
		PoolSize:     2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Health(ctx))
}
