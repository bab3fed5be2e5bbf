package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilClientIsSafe(t *testing.T) {
	var c *Client

	t.Run("publish is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Publish(context.Background(), SubjectLeg, LegEvent{}))
	})

	t.Run("drain is a no-op", func(t *testing.T) {
		assert.NoError(t, c.Drain())
	})
}
