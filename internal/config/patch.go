package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/guidepost/pkg/bundle"
	"gopkg.in/yaml.v3"
)

// LoadPatches reads a guide's content for every language from a file keyed by
// language code. Files ending in .json use the JSON field names (commonErrors);
// anything else is YAML with snake_case names (common_errors).
//
//	en:
//	  title: Your first day
//	  steps: [Collect your badge]
//	  ...
func LoadPatches(path string) (map[bundle.Lang]bundle.GuidePatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch file: %w", err)
	}

	patches := make(map[bundle.Lang]bundle.GuidePatch)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &patches); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &patches); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if len(patches) == 0 {
		return nil, fmt.Errorf("patch file %s contains no languages", path)
	}
	return patches, nil
}
