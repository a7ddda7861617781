package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/guidepost/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	// ConfigFile is the name of the project configuration
	ConfigFile = "guidepost.yml"

	// GuidesDir holds guide content files, one per guide
	GuidesDir = "guides"
)

var exampleGuide = filepath.Join(GuidesDir, "firstDay.yml")

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the guidepost project structure in dir.
// If force is true, it will remove existing guidepost.yml and guides/ directory first.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, GuidesDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", GuidesDir, err)
	}

	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return validateCreatedFiles(dir)
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", ConfigFile)
		if err := os.Remove(filepath.Join(dir, ConfigFile)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}

	if info, err := os.Stat(filepath.Join(dir, GuidesDir)); err == nil && info.IsDir() {
		fmt.Printf("⚠️  Removing existing %s/ directory...\n", GuidesDir)
		if err := os.RemoveAll(filepath.Join(dir, GuidesDir)); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", GuidesDir, err)
		}
	}

	return nil
}

func getTemplateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/guidepost.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}

	guide, err := templatesFS.ReadFile("templates/guide.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read guide template: %w", err)
	}

	return []FileInfo{
		{Path: ConfigFile, Content: cfg, Permissions: 0644},
		{Path: exampleGuide, Content: guide, Permissions: 0644},
	}, nil
}

// validateCreatedFiles loads the written files the same way the CLI will.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}

	if _, err := config.LoadPatches(filepath.Join(dir, exampleGuide)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", exampleGuide, err)
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized guidepost project!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", ConfigFile)
	fmt.Printf("  ✓ %s\n", exampleGuide)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set GUIDEPOST_EDITOR_TOKEN and GUIDEPOST_VIEWER_TOKEN")
	fmt.Println("  2. Run 'guidepost seed' to create empty bundles")
	fmt.Printf("  3. Run 'guidepost publish firstDay -f %s'\n", exampleGuide)
}
