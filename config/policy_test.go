package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy_EmptyPath(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Empty(t, policy.Keywords)
	assert.Equal(t, ConfidencePolicy{}, policy.Confidence)
}

func TestLoadPolicy_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
keywords: [rfq, "price request"]
confidence:
  version: "2025-03"
  required_weight: 1.0
  optional_weight: 0.25
  per_item_bonus: 0.02
  max_item_bonus: 0.1
  ceiling: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rfq", "price request"}, policy.Keywords)
	assert.Equal(t, "2025-03", policy.Confidence.Version)
	assert.Equal(t, 0.25, policy.Confidence.OptionalWeight)
	assert.Equal(t, 0.9, policy.Confidence.Ceiling)
}

func TestLoadPolicy_RejectsInvalidCeiling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence:\n  ceiling: 1.5\n"), 0o600))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
