package containerfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ansible-community/ee-builder/pkg/containerfile/scripts"
	"github.com/ansible-community/ee-builder/pkg/util/console"
	"github.com/ansible-community/ee-builder/pkg/util/files"
)

// stageContextFiles populates the context subfolder with everything later
// COPY instructions reference: dependency files under their canonical names,
// the keyring and ansible config if declared, user build files, and the
// helper scripts. It appends the two COPY steps that bring the scripts into
// the image.
func (c *Containerfile) stageContextFiles() error {
	scriptsDir := filepath.Join(c.OutputsDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		return fmt.Errorf("Failed to create %s: %w", scriptsDir, err)
	}

	// Modification times are ignored on purpose: the source may be a
	// freshly materialized temporary file and only content matters.
	for _, cf := range contextFileNames {
		for _, exclude := range []bool{false, true} {
			name := cf.name
			if exclude {
				name = "exclude-" + name
			}
			src := c.Definition.DependencyPath(cf.category, exclude)
			if src == "" {
				continue
			}
			if err := files.SyncFile(src, filepath.Join(c.OutputsDir, name), true); err != nil {
				return err
			}
		}
	}

	if err := c.stageExcludedCollectionsList(); err != nil {
		return err
	}

	if c.opts.GalaxyKeyring != "" {
		if err := files.CopyFile(c.opts.GalaxyKeyring, filepath.Join(c.OutputsDir, KeyringFilename)); err != nil {
			return err
		}
	}

	if err := c.stageAdditionalBuildFiles(); err != nil {
		return err
	}

	if c.Definition.AnsibleConfig != "" {
		if err := files.CopyFile(c.Definition.AnsibleConfig, filepath.Join(c.OutputsDir, AnsibleConfigFilename)); err != nil {
			return err
		}
	}

	if err := scripts.WriteAll(scriptsDir); err != nil {
		return err
	}

	// Intermediate stages expect the helpers under /output, a location the
	// final image does not keep.
	c.append(fmt.Sprintf("COPY %s/scripts/ /output/scripts/", ContextSubfolder))
	// /output is purged from the final image, so the entrypoint gets its own
	// copy at a surviving path.
	c.append(fmt.Sprintf("COPY %s/scripts/entrypoint %s/entrypoint", ContextSubfolder, FinalImageBinPath))

	return nil
}

// The all_from_collections exclusion is a list in the definition rather than
// a file, so it is materialized through a temporary file and staged like the
// other requirement sources.
func (c *Containerfile) stageExcludedCollectionsList() error {
	list := c.Definition.ExcludeAllFromCollections()
	if len(list) == 0 {
		return nil
	}

	tmp, err := os.CreateTemp("", "exclude-collections")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(list, "\n")); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return files.SyncFile(tmp.Name(), filepath.Join(c.OutputsDir, ExcludeCollectionsFilename), true)
}

// stageAdditionalBuildFiles copies user-declared extra files into per-entry
// destination subfolders. An absolute src must exist; a relative src is a
// glob pattern resolved against the definition file's directory. Missing
// sources warn and skip, they never fail generation.
func (c *Containerfile) stageAdditionalBuildFiles() error {
	for _, entry := range c.Definition.AdditionalBuildFiles {
		var matches []string

		if filepath.IsAbs(entry.Src) {
			exists, err := files.Exists(entry.Src)
			if err != nil {
				return err
			}
			if !exists {
				console.Warnf("User build file %s does not exist.", entry.Src)
				continue
			}
			matches = []string{entry.Src}
		} else {
			pattern := filepath.Join(filepath.Dir(c.Definition.Filename), entry.Src)
			found, err := filepath.Glob(pattern)
			if err != nil {
				return fmt.Errorf("Bad additional_build_files pattern %q: %w", entry.Src, err)
			}
			if len(found) == 0 {
				console.Warnf("No matches for '%s' in additional_build_files.", entry.Src)
				continue
			}
			matches = found
		}

		dest := filepath.Join(c.OutputsDir, entry.Dest)
		console.Debugf("Creating %s", dest)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("Failed to create %s: %w", dest, err)
		}

		for _, match := range matches {
			isDir, err := files.IsDir(match)
			if err != nil {
				return err
			}
			if isDir {
				if err := files.CopyDirectory(match, dest); err != nil {
					return err
				}
			} else if err := files.CopyFile(match, filepath.Join(dest, filepath.Base(match))); err != nil {
				return err
			}
		}
	}
	return nil
}
