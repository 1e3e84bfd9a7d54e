package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pricesync/pricesync/pkg/logging"
)

func TestContextFunctions(t *testing.T) {
	t.Run("FromContext falls back to default", func(t *testing.T) {
		assert.Same(t, logging.Default(), logging.FromContext(context.Background()))
	})

	t.Run("request id is stored and logged", func(t *testing.T) {
		tl := logging.NewTestLogger(t)
		ctx := logging.WithLogger(context.Background(), tl.Logger)
		ctx = logging.WithRequestID(ctx, "req-1")

		assert.Equal(t, "req-1", logging.RequestID(ctx))
		logging.FromContext(ctx).Info().Msg("handled")
		tl.AssertContains(t, `"request_id":"req-1"`)
	})

	t.Run("fields chain", func(t *testing.T) {
		tl := logging.NewTestLogger(t)
		ctx := logging.WithLogger(context.Background(), tl.Logger)
		ctx = logging.WithOperation(ctx, "preview")
		ctx = logging.WithFields(ctx, map[string]any{"rows": 3, "fuzzy": true})

		logging.FromContext(ctx).Info().Msg("done")
		tl.AssertContains(t, `"operation":"preview"`)
		tl.AssertContains(t, `"rows":3`)
		tl.AssertContains(t, `"fuzzy":true`)
	})
}
