package definition

import "fmt"

// Schema identifies the definition schema variant in play. Version-dependent
// behavior hangs off a per-variant table instead of scattered version
// comparisons.
type Schema int

const (
	SchemaV1 Schema = iota + 1
	SchemaV2
	SchemaV3Plus
)

func (s Schema) String() string {
	switch s {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	case SchemaV3Plus:
		return "v3+"
	}
	return fmt.Sprintf("Schema(%d)", int(s))
}

// Behavior is the set of optional behaviors a schema variant enables.
type Behavior struct {
	// BuilderImageConfigurable allows images.builder_image and keeps the
	// EE_BUILDER_IMAGE build arg in play.
	BuilderImageConfigurable bool
	// BuilderImageAlways makes the builder stage derive from
	// $EE_BUILDER_IMAGE even when no builder image is configured.
	BuilderImageAlways bool
	// PackageManagerArg emits the PKGMGR global build arg.
	PackageManagerArg bool
	// PipBootstrap runs the pip_install helper in the base stage.
	PipBootstrap bool
	// AnsibleCheck runs the ansible/ansible-runner presence check in the
	// final stage.
	AnsibleCheck bool
	// OptionsHonored applies the options block (workdir, user, passwd
	// permissions, skip flags).
	OptionsHonored bool
	// LegacyAnsibleConfig copies ansible.cfg into ~/.ansible.cfg during the
	// galaxy stage.
	LegacyAnsibleConfig bool
}

var behaviors = map[Schema]Behavior{
	SchemaV1: {
		BuilderImageConfigurable: true,
		BuilderImageAlways:       true,
		LegacyAnsibleConfig:      true,
	},
	SchemaV2: {
		BuilderImageConfigurable: true,
	},
	SchemaV3Plus: {
		PackageManagerArg: true,
		PipBootstrap:      true,
		AnsibleCheck:      true,
		OptionsHonored:    true,
	},
}

// SchemaForVersion maps a definition version number onto its schema variant.
func SchemaForVersion(version int) Schema {
	switch version {
	case 1:
		return SchemaV1
	case 2:
		return SchemaV2
	default:
		return SchemaV3Plus
	}
}

// Behavior returns the optional-behavior table for the variant.
func (s Schema) Behavior() Behavior {
	return behaviors[s]
}
