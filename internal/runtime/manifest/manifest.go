// Package manifest describes which jarvis runtime versions can be installed
// and how to obtain them.
package manifest

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

const (
	// PlatformAny matches every platform.
	PlatformAny = "any"

	// BuiltinVersion is the tracking build the built-in manifest points at.
	BuiltinVersion = "main"
)

// Release describes one installable runtime build for one platform.
type Release struct {
	Platform string `yaml:"platform" json:"platform"`
	Version  string `yaml:"version" json:"version"`

	// SourceURL is the source archive for the download fallback;
	// SourceSHA256 is its expected checksum when known.
	SourceURL    string `yaml:"sourceUrl,omitempty" json:"sourceUrl,omitempty"`
	SourceSHA256 string `yaml:"sourceSha256,omitempty" json:"sourceSha256,omitempty"`

	// BinaryRelativePath locates the built binary inside an install root.
	BinaryRelativePath string `yaml:"binaryRelativePath,omitempty" json:"binaryRelativePath,omitempty"`

	// BuildPackage is the cargo crate built by the primary install strategy;
	// BuildRef overrides the crate version requested from the registry.
	BuildPackage string `yaml:"buildPackage,omitempty" json:"buildPackage,omitempty"`
	BuildRef     string `yaml:"buildRef,omitempty" json:"buildRef,omitempty"`
}

// Manifest is the release catalog.
type Manifest struct {
	LatestVersion string    `yaml:"latestVersion" json:"latestVersion"`
	Releases      []Release `yaml:"releases" json:"releases"`
}

// Builtin returns the fallback manifest pointing at a "main" build.
func Builtin() *Manifest {
	return &Manifest{
		LatestVersion: BuiltinVersion,
		Releases: []Release{
			{
				Platform:     PlatformAny,
				Version:      BuiltinVersion,
				SourceURL:    "https://github.com/openwork-ai/jarvis/archive/refs/heads/main.tar.gz",
				BuildPackage: "jarvis-runtime",
			},
		},
	}
}

// Load reads the manifest file at path. An empty path, a missing file, or an
// unparseable file all fall back to the built-in manifest; a broken catalog
// must never block installing the tracking build.
func Load(path string, log *logger.Logger) *Manifest {
	if path == "" {
		return Builtin()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Release manifest not readable, using built-in manifest",
			zap.String("path", path),
			zap.Error(err))
		return Builtin()
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		log.Warn("Release manifest not parseable, using built-in manifest",
			zap.String("path", path),
			zap.Error(err))
		return Builtin()
	}
	if m.LatestVersion == "" && len(m.Releases) == 0 {
		log.Warn("Release manifest is empty, using built-in manifest",
			zap.String("path", path))
		return Builtin()
	}

	log.Info("Loaded release manifest",
		zap.String("path", path),
		zap.String("latest", m.LatestVersion),
		zap.Int("releases", len(m.Releases)))
	return &m
}

// CurrentPlatform returns the manifest platform key for this host.
func CurrentPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// ResolveVersion maps the caller's requested version ("" and "latest" mean
// the manifest's latest) to a concrete version label.
func (m *Manifest) ResolveVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" || strings.EqualFold(v, "latest") {
		v = m.LatestVersion
	}
	if v == "" {
		v = BuiltinVersion
	}
	return v
}

// Resolve finds the release for a version on a platform. A release with
// platform "any" matches when no exact platform entry exists.
func (m *Manifest) Resolve(version, platform string) (*Release, error) {
	v := m.ResolveVersion(version)

	var anyMatch *Release
	for i := range m.Releases {
		r := &m.Releases[i]
		if r.Version != v {
			continue
		}
		if r.Platform == platform {
			return r, nil
		}
		if r.Platform == PlatformAny && anyMatch == nil {
			anyMatch = r
		}
	}
	if anyMatch != nil {
		return anyMatch, nil
	}
	return nil, fmt.Errorf("no release for version %s on platform %s", v, platform)
}

// AvailableVersions lists the distinct versions installable on a platform,
// latest first when the manifest names one.
func (m *Manifest) AvailableVersions(platform string) []string {
	seen := make(map[string]bool)
	var versions []string
	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		versions = append(versions, v)
	}

	add(m.LatestVersion)
	for _, r := range m.Releases {
		if r.Platform == platform || r.Platform == PlatformAny {
			add(r.Version)
		}
	}
	return versions
}
