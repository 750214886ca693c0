// Package scripts carries the helper scripts baked into every build
// context. Intermediate build stages call them from /output/scripts; the
// entrypoint additionally survives into the final image.
package scripts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed embed
var bundled embed.FS

// Manifest is the fixed set of helper scripts staged into the context's
// scripts subfolder.
var Manifest = []string{
	"assemble",
	"install-from-bindep",
	"introspect.py",
	"check_galaxy",
	"check_ansible",
	"pip_install",
	"entrypoint",
}

// WriteAll copies every bundled script into destDir, marked executable.
func WriteAll(destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("Failed to create scripts directory %s: %w", destDir, err)
	}
	for _, name := range Manifest {
		contents, err := bundled.ReadFile("embed/" + name)
		if err != nil {
			return fmt.Errorf("Failed to read bundled script %s: %w", name, err)
		}
		dest := filepath.Join(destDir, name)
		if err := os.WriteFile(dest, contents, 0o755); err != nil {
			return fmt.Errorf("Failed to write script %s: %w", dest, err)
		}
	}
	return nil
}
