package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPostgres(t *testing.T) *PostgresClient {
	t.Helper()

	dsn := os.Getenv("OSC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("OSC_TEST_DATABASE_URL not set")
	}

	p, err := NewPostgresClientFromDSN(context.Background(), dsn, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, p.Clear(context.Background()))
	t.Cleanup(func() {
		p.Clear(context.Background())
		p.Close()
	})
	return p
}

func TestPostgres_AppendListDelete(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	for _, l := range []string{"a", "b", "c"} {
		_, err := p.Append(ctx, record(l, `{"mean":1}`))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	records, err := p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, labels(records))
	assert.JSONEq(t, `{"mean":1}`, string(records[0].Result))

	require.NoError(t, p.Delete(ctx, 1))
	records, err = p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, labels(records))

	assert.ErrorIs(t, p.Delete(ctx, 5), ErrNotFound)
	assert.ErrorIs(t, p.Delete(ctx, -1), ErrNotFound)

	require.NoError(t, p.Clear(ctx))
	records, err = p.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
