package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

func TestLoadCatalogEmptyPathUsesBuiltIn(t *testing.T) {
	reg, err := LoadCatalog("", logger.Default())
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Tools)
	assert.NotEmpty(t, reg.Skills)
}

func TestLoadCatalogMissingFileFallsBack(t *testing.T) {
	reg, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"), logger.Default())
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Tools)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	catalog := `
skills:
  - id: triage
    name: Triage
tools:
  - name: file_read
    actions: [read]
    category: filesystem
  - name: legacy_tool
    actions: [exec]
    disabled: true
connectors:
  - key: slack
    name: Slack
    category: messaging
`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	reg, err := LoadCatalog(path, logger.Default())
	require.NoError(t, err)

	assert.Len(t, reg.Tools, 2)
	assert.Len(t, reg.EnabledTools(), 1)
	assert.Equal(t, "file_read", reg.EnabledTools()[0].Name)
	require.Len(t, reg.Skills, 1)
	assert.Equal(t, "triage", reg.Skills[0].ID)
	assert.Len(t, reg.EnabledConnectors(), 1)
}

func TestLoadCatalogRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools: {not: [a, list"), 0o644))

	_, err := LoadCatalog(path, logger.Default())
	assert.Error(t, err)
}

func TestDefaultRegistryDisabledConnectorsStayOut(t *testing.T) {
	reg := DefaultRegistry()
	assert.NotEmpty(t, reg.Connectors)
	assert.Empty(t, reg.EnabledConnectors())
}
