package definition

import (
	"path/filepath"
	"sort"
	"strings"
)

var buildStepSections = map[Schema][]string{
	SchemaV1: {"prepend", "append"},
	SchemaV2: {"prepend", "append"},
	SchemaV3Plus: {
		"prepend_base", "append_base",
		"prepend_galaxy", "append_galaxy",
		"prepend_builder", "append_builder",
		"prepend_final", "append_final",
	},
}

func (d *Definition) validate() error {
	if d.Version < 1 {
		return newError("definition version must be 1 or greater, got %d", d.Version)
	}

	behavior := d.Schema.Behavior()

	if d.raw.Options != nil && !behavior.OptionsHonored {
		return newError("the 'options' block is only valid for version 3 and above")
	}
	if d.raw.Images.BuilderImage.Name != "" && !behavior.BuilderImageConfigurable {
		return newError("images.builder_image is only valid for version 1 and 2 schemas; version 3 and above derive the builder stage from the base image")
	}

	for key := range d.raw.BuildArgDefaults {
		if _, ok := buildArgDefaults[key]; !ok {
			return newError("key %q is not allowed in build_arg_defaults (allowed: %s)",
				key, strings.Join(sortedKeys(buildArgDefaults), ", "))
		}
	}

	allowed := buildStepSections[d.Schema]
	for section := range d.AdditionalBuildSteps {
		found := false
		for _, name := range allowed {
			if section == name {
				found = true
				break
			}
		}
		if !found {
			return newError("section %q is not allowed in additional_build_steps (allowed: %s)",
				section, strings.Join(allowed, ", "))
		}
	}

	for _, entry := range d.AdditionalBuildFiles {
		if entry.Src == "" || entry.Dest == "" {
			return newError("additional_build_files entries require both 'src' and 'dest'")
		}
		if filepath.IsAbs(entry.Dest) || strings.Contains(entry.Dest, "..") {
			return newError("additional_build_files dest %q must be a relative path inside the build context", entry.Dest)
		}
	}

	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
