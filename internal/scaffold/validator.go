package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting checks if guidepost.yml or the guides/ directory already exist in dir.
// Returns an error if they do, nil otherwise
func CheckExisting(dir string) error {
	var existingFiles []string

	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		existingFiles = append(existingFiles, ConfigFile)
	}

	if info, err := os.Stat(filepath.Join(dir, GuidesDir)); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, GuidesDir+"/")
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'guidepost init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
