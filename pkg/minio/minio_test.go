package minio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReference(t *testing.T) {
	require.Equal(t, "collectibles/collectibles/42.json", Reference("collectibles", "collectibles/42.json"))
}
