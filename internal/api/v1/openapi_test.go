package apiv1

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSpec(t *testing.T) {
	doc, err := LoadSpec(context.Background())
	require.NoError(t, err)

	for _, path := range []string{
		"/health",
		"/billing/webhook",
		"/billing/checkout",
		"/billing/subscriptions/checkout",
		"/billing/subscriptions/cancel",
		"/billing/connect/onboard",
		"/billing/connect/refresh",
	} {
		item := doc.Paths.Find(path)
		require.NotNil(t, item, path)
		if path == "/health" {
			assert.NotNil(t, item.Get, path)
			continue
		}
		assert.NotNil(t, item.Post, path)
	}

	checkout := doc.Paths.Find("/billing/checkout").Post
	require.NotNil(t, checkout.Security)
	assert.Contains(t, (*checkout.Security)[0], "bearerAuth")
	assert.Nil(t, doc.Paths.Find("/billing/webhook").Post.Security)
}
