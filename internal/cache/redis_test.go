package cache

import (
	"context"
	"testing"
	"time"

	"smm-store/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutAddrIsDisabled(t *testing.T) {
	r := New(Config{}, logging.Discard())
	assert.Nil(t, r)

	ctx := context.Background()
	require.NoError(t, r.Ping(ctx))
	require.NoError(t, r.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var dest map[string]int
	ok, err := r.GetJSON(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Close())
}

func TestKeyPrefix(t *testing.T) {
	r := New(Config{Addr: "127.0.0.1:0", Prefix: "shop"}, logging.Discard())
	require.NotNil(t, r)
	defer r.Close()
	assert.Equal(t, "shop:catalog", r.key("catalog"))
}
