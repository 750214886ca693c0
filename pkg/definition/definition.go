// Package definition loads and models the execution environment definition
// file that drives Containerfile generation.
package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

const (
	DefaultPythonPath         = "/usr/bin/python3"
	DefaultPackageManagerPath = "/usr/bin/dnf"
)

// Build args emitted into the generated file get their defaults from this
// table. Empty string values still emit the ARG so it can be overridden at
// build time.
var buildArgDefaults = map[string]string{
	"ANSIBLE_GALAXY_CLI_COLLECTION_OPTS": "",
	"ANSIBLE_GALAXY_CLI_ROLE_OPTS":       "",
	"EE_BASE_IMAGE":                      "quay.io/ansible/ansible-runner:latest",
	"EE_BUILDER_IMAGE":                   "quay.io/ansible/ansible-builder:latest",
	"PKGMGR_PRESERVE_CACHE":              "",
}

// DependencyCategories are the requirement categories a definition can point
// at, in canonical order.
var DependencyCategories = []string{"galaxy", "python", "system"}

type rawImageRef struct {
	Name string `yaml:"name"`
}

type rawImages struct {
	BaseImage    rawImageRef `yaml:"base_image"`
	BuilderImage rawImageRef `yaml:"builder_image"`
}

type rawPipDep struct {
	PackagePip string `yaml:"package_pip"`
}

type rawInterpreter struct {
	PackageSystem string `yaml:"package_system"`
	PythonPath    string `yaml:"python_path"`
}

type rawExclude struct {
	Galaxy             interface{} `yaml:"galaxy"`
	Python             interface{} `yaml:"python"`
	System             interface{} `yaml:"system"`
	AllFromCollections []string    `yaml:"all_from_collections"`
}

type rawDependencies struct {
	Galaxy            interface{}    `yaml:"galaxy"`
	Python            interface{}    `yaml:"python"`
	System            interface{}    `yaml:"system"`
	AnsibleCore       rawPipDep      `yaml:"ansible_core"`
	AnsibleRunner     rawPipDep      `yaml:"ansible_runner"`
	PythonInterpreter rawInterpreter `yaml:"python_interpreter"`
	Exclude           rawExclude     `yaml:"exclude"`
}

type rawDefinition struct {
	Version              interface{}          `yaml:"version"`
	Images               rawImages            `yaml:"images"`
	BuildArgDefaults     map[string]string    `yaml:"build_arg_defaults"`
	Dependencies         rawDependencies      `yaml:"dependencies"`
	Options              *Options             `yaml:"options"`
	AdditionalBuildSteps map[string]StepLines `yaml:"additional_build_steps"`
	AdditionalBuildFiles []BuildFile          `yaml:"additional_build_files"`
	AnsibleConfig        string               `yaml:"ansible_config"`
}

// ContainerInit configures the init behavior of the final image.
type ContainerInit struct {
	PackagePip string   `yaml:"package_pip"`
	Entrypoint InitLine `yaml:"entrypoint"`
	Cmd        InitLine `yaml:"cmd"`
}

// FlexString accepts any YAML scalar and keeps its string form. Used for
// fields users commonly write unquoted, like a numeric uid.
type FlexString string

func (f *FlexString) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value interface{}
	if err := unmarshal(&value); err != nil {
		return err
	}
	if value == nil {
		*f = ""
		return nil
	}
	*f = FlexString(fmt.Sprint(value))
	return nil
}

// Options is the version 3+ options block. Its fields are honored only when
// the schema's behavior table says so.
type Options struct {
	SkipPipInstall         bool          `yaml:"skip_pip_install"`
	SkipAnsibleCheck       bool          `yaml:"skip_ansible_check"`
	RelaxPasswdPermissions bool          `yaml:"relax_passwd_permissions"`
	Workdir                string        `yaml:"workdir"`
	User                   FlexString    `yaml:"user"`
	PackageManagerPath     string        `yaml:"package_manager_path"`
	ContainerInit          ContainerInit `yaml:"container_init"`
}

// BuildFile is one additional_build_files entry: a source path or glob and
// a destination subfolder inside the build context.
type BuildFile struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
}

// BuildArg is a named global build argument. A nil Value means the ARG is
// omitted entirely; an empty string still emits it so it can be overridden.
type BuildArg struct {
	Name  string
	Value *string
}

// Definition is the parsed, defaulted and validated execution environment
// file. It is read-only once loaded.
type Definition struct {
	Version int
	Schema  Schema

	Options              Options
	AdditionalBuildSteps map[string]StepLines
	AdditionalBuildFiles []BuildFile

	// AnsibleConfig is the resolved path of the declared ansible.cfg, or "".
	AnsibleConfig string

	// Filename is the originating definition file; relative additional build
	// file globs resolve against its directory.
	Filename string

	raw       rawDefinition
	dir       string
	buildArgs map[string]string
	depPaths  map[string]string
	inlineDir string
}

// Load reads, parses, defaults and validates a definition file.
func Load(path string) (*Definition, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("could not read definition file %s", path), Err: err}
	}

	var raw rawDefinition
	if err := yaml.UnmarshalStrict(contents, &raw); err != nil {
		return nil, &Error{Msg: "could not parse definition file", Err: err}
	}

	version, err := parseVersion(raw.Version)
	if err != nil {
		return nil, err
	}

	d := &Definition{
		Version:              version,
		Schema:               SchemaForVersion(version),
		AdditionalBuildSteps: raw.AdditionalBuildSteps,
		AdditionalBuildFiles: raw.AdditionalBuildFiles,
		Filename:             path,
		raw:                  raw,
		dir:                  filepath.Dir(path),
		depPaths:             map[string]string{},
	}
	if raw.Options != nil {
		d.Options = *raw.Options
	}
	if d.Options.PackageManagerPath == "" {
		d.Options.PackageManagerPath = DefaultPackageManagerPath
	}

	if err := d.validate(); err != nil {
		return nil, err
	}

	d.normalizeBuildSteps()
	d.mergeBuildArgDefaults()

	if raw.AnsibleConfig != "" {
		d.AnsibleConfig, err = d.resolvePath(raw.AnsibleConfig)
		if err != nil {
			return nil, err
		}
	}

	if err := d.resolveDependencies(); err != nil {
		return nil, err
	}

	return d, nil
}

func parseVersion(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, newError("the definition must declare a top-level 'version'")
	case int:
		return t, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, newError("invalid definition version %q", t)
		}
		return n, nil
	default:
		return 0, newError("invalid definition version %v", v)
	}
}

// Older schemas used bare 'prepend'/'append' sections; they splice around
// the final stage.
func (d *Definition) normalizeBuildSteps() {
	if d.Schema == SchemaV3Plus {
		return
	}
	steps := d.AdditionalBuildSteps
	if lines, ok := steps["prepend"]; ok {
		steps["prepend_final"] = lines
		delete(steps, "prepend")
	}
	if lines, ok := steps["append"]; ok {
		steps["append_final"] = lines
		delete(steps, "append")
	}
}

func (d *Definition) mergeBuildArgDefaults() {
	d.buildArgs = map[string]string{}
	for key, value := range buildArgDefaults {
		d.buildArgs[key] = value
	}
	for key, value := range d.raw.BuildArgDefaults {
		d.buildArgs[key] = value
	}
}

// BuildArgDefault returns the resolved default for a recognized build arg.
func (d *Definition) BuildArgDefault(name string) string {
	return d.buildArgs[name]
}

// BaseImage is the root image every stage ultimately derives from.
func (d *Definition) BaseImage() string {
	if name := d.raw.Images.BaseImage.Name; name != "" {
		return name
	}
	return d.buildArgs["EE_BASE_IMAGE"]
}

// BuilderImage is the explicitly configured builder-stage image, or "" when
// none is set. When it is empty, the base stage takes over the toolchain
// installs the dedicated image would otherwise provide.
func (d *Definition) BuilderImage() string {
	return d.raw.Images.BuilderImage.Name
}

// UsesBuilderImage reports whether the builder stage derives from
// $EE_BUILDER_IMAGE rather than the customized base. Version 1 definitions
// always do; version 2 only when a builder image is configured.
func (d *Definition) UsesBuilderImage() bool {
	return d.BuilderImage() != "" || d.Schema.Behavior().BuilderImageAlways
}

// PythonPath is the interpreter path used inside the image.
func (d *Definition) PythonPath() string {
	if p := d.raw.Dependencies.PythonInterpreter.PythonPath; p != "" {
		return p
	}
	return DefaultPythonPath
}

// PythonPackageSystem is the OS package providing the interpreter, or "".
func (d *Definition) PythonPackageSystem() string {
	return d.raw.Dependencies.PythonInterpreter.PackageSystem
}

// AnsibleRefInstallList joins the declared ansible-core and ansible-runner
// pip refs, or returns "" when neither is declared.
func (d *Definition) AnsibleRefInstallList() string {
	refs := []string{}
	if r := d.raw.Dependencies.AnsibleCore.PackagePip; r != "" {
		refs = append(refs, r)
	}
	if r := d.raw.Dependencies.AnsibleRunner.PackagePip; r != "" {
		refs = append(refs, r)
	}
	return strings.Join(refs, " ")
}

// ExcludeAllFromCollections is the list of collections whose discovered
// requirements should be dropped wholesale.
func (d *Definition) ExcludeAllFromCollections() []string {
	return d.raw.Dependencies.Exclude.AllFromCollections
}

// GlobalArgs returns the recognized build args in canonical emission order.
func (d *Definition) GlobalArgs() []BuildArg {
	required := func(s string) *string { return &s }
	optional := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}

	// The EE_BUILDER_IMAGE arg only exists for schemas that may use a
	// dedicated builder image; the configured name overrides the default.
	builderImage := ""
	if d.Schema.Behavior().BuilderImageConfigurable {
		builderImage = d.buildArgs["EE_BUILDER_IMAGE"]
		if name := d.BuilderImage(); name != "" {
			builderImage = name
		}
	}

	args := []BuildArg{
		{"EE_BASE_IMAGE", required(d.BaseImage())},
		{"EE_BUILDER_IMAGE", optional(builderImage)},
		{"PYCMD", required(d.PythonPath())},
		{"PYPKG", optional(d.PythonPackageSystem())},
		{"PKGMGR_PRESERVE_CACHE", required(d.buildArgs["PKGMGR_PRESERVE_CACHE"])},
		{"ANSIBLE_GALAXY_CLI_COLLECTION_OPTS", required(d.buildArgs["ANSIBLE_GALAXY_CLI_COLLECTION_OPTS"])},
		{"ANSIBLE_GALAXY_CLI_ROLE_OPTS", required(d.buildArgs["ANSIBLE_GALAXY_CLI_ROLE_OPTS"])},
		{"ANSIBLE_INSTALL_REFS", optional(d.AnsibleRefInstallList())},
	}
	if d.Schema.Behavior().PackageManagerArg {
		args = append(args, BuildArg{"PKGMGR", required(d.Options.PackageManagerPath)})
	}
	return args
}

// DependencyPath returns the absolute path of the requirement source for a
// category (or its exclude counterpart), or "" if the definition does not
// declare one. Resolution happens once at load time, so repeated lookups
// within a generation run are stable even when the source is an inline
// block materialized to a temporary file.
func (d *Definition) DependencyPath(category string, exclude bool) string {
	return d.depPaths[depKey(category, exclude)]
}

// HasAnyDependency reports whether any galaxy/python/system requirement (or
// exclude counterpart) resolved.
func (d *Definition) HasAnyDependency() bool {
	for _, category := range DependencyCategories {
		for _, exclude := range []bool{false, true} {
			if d.DependencyPath(category, exclude) != "" {
				return true
			}
		}
	}
	return false
}

func depKey(category string, exclude bool) string {
	if exclude {
		return category + "!exclude"
	}
	return category
}

func (d *Definition) resolveDependencies() error {
	for _, category := range DependencyCategories {
		for _, exclude := range []bool{false, true} {
			path, err := d.resolveDependency(category, exclude)
			if err != nil {
				return err
			}
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return &Error{Msg: fmt.Sprintf("dependency file %s does not exist", path), Err: err}
			}
			d.depPaths[depKey(category, exclude)] = path
		}
	}
	return nil
}

func (d *Definition) resolveDependency(category string, exclude bool) (string, error) {
	var value interface{}
	if exclude {
		switch category {
		case "galaxy":
			value = d.raw.Dependencies.Exclude.Galaxy
		case "python":
			value = d.raw.Dependencies.Exclude.Python
		case "system":
			value = d.raw.Dependencies.Exclude.System
		}
	} else {
		switch category {
		case "galaxy":
			value = d.raw.Dependencies.Galaxy
		case "python":
			value = d.raw.Dependencies.Python
		case "system":
			value = d.raw.Dependencies.System
		}
	}

	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return d.resolvePath(v)
	case []interface{}:
		lines := make([]string, 0, len(v))
		for _, item := range v {
			lines = append(lines, fmt.Sprint(item))
		}
		return d.materializeInline(category, exclude, strings.Join(lines, "\n")+"\n")
	case map[interface{}]interface{}:
		contents, err := yaml.Marshal(v)
		if err != nil {
			return "", &Error{Msg: fmt.Sprintf("could not serialize inline %s dependencies", category), Err: err}
		}
		return d.materializeInline(category, exclude, string(contents))
	default:
		return "", newError("dependencies.%s must be a path or inline content, got %T", category, value)
	}
}

// Inline dependency blocks become temporary files so the rest of generation
// only ever deals in file paths.
func (d *Definition) materializeInline(category string, exclude bool, contents string) (string, error) {
	if d.inlineDir == "" {
		dir, err := os.MkdirTemp("", "ee-builder-deps")
		if err != nil {
			return "", err
		}
		d.inlineDir = dir
	}
	path := filepath.Join(d.inlineDir, depKey(category, exclude))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (d *Definition) resolvePath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", &Error{Msg: fmt.Sprintf("could not expand path %s", path), Err: err}
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Join(d.dir, expanded), nil
}
