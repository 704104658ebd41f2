package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mirrorkit/wikidot-mirror/internal/config"
)

func TestMirrorCmd_RequiresSiteAndTarget(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"mirror", "https://example.wikidot.com"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	assert.Error(t, err)
}

func TestApplyConfig_FillsUnsetFlags(t *testing.T) {
	original := mirrorFlags
	defer func() { mirrorFlags = original }()

	mirrorFlags.rate = 0
	mirrorFlags.workers = 9 // explicitly set, must survive
	mirrorFlags.skipPages = []string{"from-flag"}

	cfg := config.Default()
	cfg.RequestsPerSecond = 0.25
	cfg.Workers = 3
	cfg.SkipPages = []string{"from-config"}
	applyConfig(cfg)

	assert.Equal(t, 0.25, mirrorFlags.rate)
	assert.Equal(t, 9, mirrorFlags.workers)
	assert.ElementsMatch(t, []string{"from-flag", "from-config"}, mirrorFlags.skipPages)
}
