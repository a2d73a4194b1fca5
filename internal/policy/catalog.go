package policy

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

// LoadCatalog reads the capability catalog from a YAML file. An empty path or
// a missing file yields the built-in catalog; a file that exists but does not
// parse is an operator error.
func LoadCatalog(path string, log *logger.Logger) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Capability catalog not found, using built-in catalog",
				zap.String("path", path))
			return DefaultRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read capability catalog: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse capability catalog %s: %w", path, err)
	}

	log.Info("Loaded capability catalog",
		zap.String("path", path),
		zap.Int("skills", len(reg.Skills)),
		zap.Int("tools", len(reg.Tools)),
		zap.Int("connectors", len(reg.Connectors)))
	return &reg, nil
}

// DefaultRegistry returns the built-in capability catalog used when no
// catalog file is configured.
func DefaultRegistry() *Registry {
	return &Registry{
		Skills: []Skill{
			{ID: "code-review", Name: "Code Review", Description: "Review diffs and suggest improvements"},
			{ID: "research", Name: "Research", Description: "Investigate a topic and summarize findings"},
			{ID: "summarize", Name: "Summarize", Description: "Condense long content"},
		},
		Tools: []Tool{
			{Name: "file_read", Actions: []string{"read"}, Category: "filesystem", Description: "Read workspace files"},
			{Name: "file_write", Actions: []string{"write"}, Category: "filesystem", Description: "Create and modify workspace files"},
			{Name: "shell", Actions: []string{"read", "exec"}, Category: "system", Description: "Run shell commands in the workspace"},
			{Name: "http_fetch", Actions: []string{"read"}, Category: "network", Description: "Fetch a URL"},
			{Name: "http_post", Actions: []string{"write"}, Category: "network", Post: true, Description: "Send data to a URL"},
		},
		Connectors: []Connector{
			{Key: "slack", Name: "Slack", Category: "messaging", Disabled: true},
			{Key: "github", Name: "GitHub", Category: "code-hosting", Disabled: true},
		},
	}
}
