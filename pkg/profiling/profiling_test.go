package profiling

import (
	"testing"

	"linkdrop/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	cfg := &config.Config{AppName: "linkdrop", AppEnv: "staging", AppVersion: "1.4.0", NodeID: 3}

	require.Equal(t, map[string]string{
		"service_name": "linkdrop",
		"env":          "staging",
		"version":      "1.4.0",
		"node_id":      "3",
	}, Tags(cfg))
}
