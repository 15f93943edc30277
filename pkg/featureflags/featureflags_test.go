package featureflags

import (
	"context"
	"testing"

	"linkdrop/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredUsesFallback(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.Enabled(context.Background(), CollectibleMinting, true))
	require.False(t, ff.Enabled(context.Background(), CollectibleMinting, false))
}

func TestStatic(t *testing.T) {
	ff := Static{CollectibleMinting: false}

	require.False(t, ff.Enabled(context.Background(), CollectibleMinting, true))
	require.True(t, ff.Enabled(context.Background(), "other", true))
}
