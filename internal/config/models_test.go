package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelCatalogDefaultsWithoutFile(t *testing.T) {
	t.Setenv("RELAY_MODELS_ALLOWED", "")
	t.Setenv("RELAY_MODELS_DEFAULT", "")

	holder, err := newModelCatalogHolder(t.TempDir())
	require.NoError(t, err)

	catalog := holder.Get()
	assert.Equal(t, DefaultModel, catalog.Default)
	assert.Len(t, catalog.Allowed, 6)
	assert.True(t, catalog.Allows(DefaultModel))
	assert.False(t, catalog.Allows("meta/llama-unknown"))
}

func TestModelCatalogFromFile(t *testing.T) {
	t.Setenv("RELAY_MODELS_ALLOWED", "")
	t.Setenv("RELAY_MODELS_DEFAULT", "")

	dir := t.TempDir()
	content := []byte("models:\n  default: openai/gpt-4\n  allowed:\n    - openai/gpt-4\n    - anthropic/claude-3-haiku\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.yml"), content, 0o600))

	holder, err := newModelCatalogHolder(dir)
	require.NoError(t, err)

	catalog := holder.Get()
	assert.Equal(t, "openai/gpt-4", catalog.Default)
	assert.Equal(t, []string{"openai/gpt-4", "anthropic/claude-3-haiku"}, catalog.Allowed)
}

func TestModelCatalogEnvOverride(t *testing.T) {
	t.Setenv("RELAY_MODELS_ALLOWED", "openai/gpt-4, openai/gpt-3.5-turbo")
	t.Setenv("RELAY_MODELS_DEFAULT", "openai/gpt-3.5-turbo")

	holder, err := newModelCatalogHolder(t.TempDir())
	require.NoError(t, err)

	catalog := holder.Get()
	assert.Equal(t, "openai/gpt-3.5-turbo", catalog.Default)
	assert.Equal(t, []string{"openai/gpt-4", "openai/gpt-3.5-turbo"}, catalog.Allowed)
}

func TestModelCatalogRejectsDefaultOutsideList(t *testing.T) {
	t.Setenv("RELAY_MODELS_ALLOWED", "openai/gpt-4")
	t.Setenv("RELAY_MODELS_DEFAULT", "google/gemini-2.5-pro")

	_, err := newModelCatalogHolder(t.TempDir())
	assert.Error(t, err)
}
