package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "releases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsBuiltin(t *testing.T) {
	m := Load("", logger.Default())
	assert.Equal(t, BuiltinVersion, m.LatestVersion)
	require.Len(t, m.Releases, 1)
	assert.Equal(t, PlatformAny, m.Releases[0].Platform)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	m := Load(filepath.Join(t.TempDir(), "missing.yaml"), logger.Default())
	assert.Equal(t, BuiltinVersion, m.LatestVersion)
}

func TestLoadUnparseableFallsBack(t *testing.T) {
	path := writeManifest(t, "latestVersion: [broken")
	m := Load(path, logger.Default())
	assert.Equal(t, BuiltinVersion, m.LatestVersion)
}

func TestLoadYAMLManifest(t *testing.T) {
	path := writeManifest(t, `
latestVersion: "0.4.2"
releases:
  - platform: linux-amd64
    version: "0.4.2"
    sourceUrl: https://example.com/jarvis-0.4.2.tar.gz
    sourceSha256: abc123
    buildPackage: jarvis-runtime
  - platform: any
    version: main
    buildPackage: jarvis-runtime
`)
	m := Load(path, logger.Default())
	assert.Equal(t, "0.4.2", m.LatestVersion)
	assert.Len(t, m.Releases, 2)
}

// The manifest format is JSON in the wild; YAML is a superset so both parse.
func TestLoadJSONManifest(t *testing.T) {
	path := writeManifest(t, `{"latestVersion":"1.0.0","releases":[{"platform":"any","version":"1.0.0","binaryRelativePath":"bin/jarvis"}]}`)
	m := Load(path, logger.Default())
	assert.Equal(t, "1.0.0", m.LatestVersion)
	require.Len(t, m.Releases, 1)
	assert.Equal(t, "bin/jarvis", m.Releases[0].BinaryRelativePath)
}

func TestResolveVersionDefaults(t *testing.T) {
	m := &Manifest{LatestVersion: "2.0.0"}
	assert.Equal(t, "2.0.0", m.ResolveVersion(""))
	assert.Equal(t, "2.0.0", m.ResolveVersion("latest"))
	assert.Equal(t, "2.0.0", m.ResolveVersion(" Latest "))
	assert.Equal(t, "1.9.0", m.ResolveVersion("1.9.0"))

	empty := &Manifest{}
	assert.Equal(t, BuiltinVersion, empty.ResolveVersion(""))
}

func TestResolvePrefersExactPlatform(t *testing.T) {
	m := &Manifest{
		LatestVersion: "1.0.0",
		Releases: []Release{
			{Platform: PlatformAny, Version: "1.0.0", BuildPackage: "generic"},
			{Platform: "linux-amd64", Version: "1.0.0", BuildPackage: "native"},
		},
	}

	r, err := m.Resolve("1.0.0", "linux-amd64")
	require.NoError(t, err)
	assert.Equal(t, "native", r.BuildPackage)

	r, err = m.Resolve("1.0.0", "darwin-arm64")
	require.NoError(t, err)
	assert.Equal(t, "generic", r.BuildPackage)
}

func TestResolveUnknownVersion(t *testing.T) {
	m := Builtin()
	_, err := m.Resolve("9.9.9", "linux-amd64")
	assert.Error(t, err)
}

func TestAvailableVersions(t *testing.T) {
	m := &Manifest{
		LatestVersion: "2.0.0",
		Releases: []Release{
			{Platform: "linux-amd64", Version: "2.0.0"},
			{Platform: "linux-amd64", Version: "1.0.0"},
			{Platform: "darwin-arm64", Version: "1.5.0"},
			{Platform: PlatformAny, Version: "main"},
		},
	}

	got := m.AvailableVersions("linux-amd64")
	assert.Equal(t, []string{"2.0.0", "1.0.0", "main"}, got)
}
