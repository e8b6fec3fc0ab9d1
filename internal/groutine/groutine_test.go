package groutine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/deskctl/internal/groutine"
)

func TestGo(t *testing.T) {
	t.Run("runs the function with the parent context", func(t *testing.T) {
		type key struct{}
		parent := context.WithValue(context.Background(), key{}, "marker")

		got := make(chan context.Context, 1)
		groutine.Go(parent, "test-worker", func(ctx context.Context) {
			got <- ctx
		})

		select {
		case ctx := <-got:
			assert.Equal(t, "marker", ctx.Value(key{}))
		case <-time.After(time.Second):
			t.Fatal("goroutine never ran")
		}
	})

	t.Run("tolerates a nil parent context", func(t *testing.T) {
		got := make(chan context.Context, 1)
		groutine.Go(nil, "test-worker", func(ctx context.Context) {
			got <- ctx
		})

		select {
		case ctx := <-got:
			require.NotNil(t, ctx)
			assert.NoError(t, ctx.Err())
		case <-time.After(time.Second):
			t.Fatal("goroutine never ran")
		}
	})
}
