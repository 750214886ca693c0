// Package containerfile turns an execution environment definition into a
// multi-stage Containerfile/Dockerfile and the build context it references.
//
// The instruction sequence is built strictly append-only: conditional logic
// only ever decides whether a step is included, never where it goes. File
// staging happens inline while steps are assembled because later steps
// check for the presence of files staged earlier.
package containerfile

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ansible-community/ee-builder/pkg/definition"
	"github.com/ansible-community/ee-builder/pkg/util/files"
)

// Options carries the generation knobs that live outside the definition
// document.
type Options struct {
	// GalaxyKeyring is a GPG keyring used by ansible-galaxy to validate
	// collection signatures. When empty, signature verification is disabled
	// via an environment variable on the install command.
	GalaxyKeyring string
	// GalaxyRequiredValidSignatureCount is passed through to ansible-galaxy
	// when a keyring is in use.
	GalaxyRequiredValidSignatureCount int
	// GalaxyIgnoreSignatureStatusCodes lists GPG status codes ansible-galaxy
	// should tolerate when a keyring is in use.
	GalaxyIgnoreSignatureStatusCodes []string
}

// Containerfile assembles and writes the build instruction file for one
// definition.
type Containerfile struct {
	Definition *definition.Definition

	// BuildContext is the directory the container build will run against.
	BuildContext string
	// OutputsDir is the context subfolder holding staged content.
	OutputsDir string
	// Path is where Write persists the instruction file.
	Path string

	opts  Options
	steps []string
}

// New sets up generation into buildContext, producing outputFilename
// (Containerfile or Dockerfile depending on the runtime in use).
func New(def *definition.Definition, buildContext string, outputFilename string, opts Options) *Containerfile {
	return &Containerfile{
		Definition:   def,
		BuildContext: buildContext,
		OutputsDir:   filepath.Join(buildContext, ContextSubfolder),
		Path:         filepath.Join(buildContext, outputFilename),
		opts:         opts,
	}
}

// Steps returns a copy of the instruction lines assembled so far.
func (c *Containerfile) Steps() []string {
	steps := make([]string, len(c.steps))
	copy(steps, c.steps)
	return steps
}

func (c *Containerfile) append(steps ...string) {
	c.steps = append(c.steps, steps...)
}

// Prepare assembles the full instruction sequence and stages every file the
// instructions reference into the build context.
func (c *Containerfile) Prepare() error {
	behavior := c.Definition.Schema.Behavior()

	// Build args all need to go at the top of the file; later stages
	// redeclare the names without values.
	c.globalArgs(true)

	c.append(
		"# Base build stage",
		fmt.Sprintf("FROM $EE_BASE_IMAGE as %s", stageBase),
		"USER root",
		"ENV PIP_BREAK_SYSTEM_PACKAGES=1",
	)
	c.globalArgs(false)
	if err := c.stageContextFiles(); err != nil {
		return err
	}
	c.customSteps("prepend_base")

	if c.Definition.BuilderImage() == "" {
		if c.Definition.PythonPackageSystem() != "" {
			c.append("RUN $PKGMGR install $PYPKG -y ; if [ -z $PKGMGR_PRESERVE_CACHE ]; then $PKGMGR clean all; fi")
		}
		// pip needs to be available for later stages.
		if behavior.PipBootstrap && !c.Definition.Options.SkipPipInstall {
			c.append("RUN /output/scripts/pip_install $PYCMD")
		}
		if c.Definition.AnsibleRefInstallList() != "" {
			c.append("RUN $PYCMD -m pip install --no-cache-dir $ANSIBLE_INSTALL_REFS")
		}
	}
	c.customSteps("append_base")

	// The galaxy stage exists only when there are galaxy requirements.
	if c.Definition.DependencyPath("galaxy", false) != "" {
		c.append(
			"",
			"# Galaxy build stage",
			fmt.Sprintf("FROM %s as %s", stageBase, stageGalaxy),
		)
		c.globalArgs(false)
		c.customSteps("prepend_galaxy")

		// Fails the eventual image build, not generation, when the galaxy
		// executable is missing from the base image.
		c.append("RUN /output/scripts/check_galaxy")

		c.legacyAnsibleConfigStep()
		c.copyBuildContextSteps()
		c.galaxyInstallSteps()
		c.customSteps("append_galaxy")
	}

	builderFrom := string(stageBase)
	if c.Definition.UsesBuilderImage() {
		builderFrom = "$EE_BUILDER_IMAGE"
	}
	c.append(
		"",
		"# Builder build stage",
		fmt.Sprintf("FROM %s as %s", builderFrom, stageBuilder),
		"ENV PIP_BREAK_SYSTEM_PACKAGES=1",
		"WORKDIR /build",
	)
	c.globalArgs(false)

	if builderFrom == string(stageBase) {
		c.append("RUN $PYCMD -m pip install --no-cache-dir bindep pyyaml packaging")
	} else {
		// A dedicated builder image may not carry the helper scripts or even
		// pip, so stage the bootstrap script directly.
		c.append(fmt.Sprintf("COPY %s/scripts/pip_install /output/scripts/pip_install", ContextSubfolder))
		c.append("RUN /output/scripts/pip_install $PYCMD")
	}

	c.customSteps("prepend_builder")
	c.galaxyCopySteps()
	if err := c.introspectAssembleSteps(); err != nil {
		return err
	}
	c.customSteps("append_builder")

	c.append(
		"",
		"# Final build stage",
		fmt.Sprintf("FROM %s as %s", stageBase, stageFinal),
		"ENV PIP_BREAK_SYSTEM_PACKAGES=1",
	)
	c.globalArgs(false)
	c.customSteps("prepend_final")

	if behavior.AnsibleCheck && !c.Definition.Options.SkipAnsibleCheck {
		c.append("RUN /output/scripts/check_ansible $PYCMD")
	}

	c.galaxyCopySteps()
	c.systemRuntimeDepsSteps()

	if behavior.OptionsHonored && c.Definition.Options.RelaxPasswdPermissions {
		c.append("RUN chmod ug+rw /etc/passwd")
	}
	if behavior.OptionsHonored {
		c.workdirSteps()
	}

	if pkg := c.Definition.Options.ContainerInit.PackagePip; pkg != "" {
		c.append(fmt.Sprintf("RUN $PYCMD -m pip install --no-cache-dir '%s'", pkg))
	}

	c.customSteps("append_final")

	// Intermediate stages staged their helpers under /output; the final
	// image keeps only what was copied to FinalImageBinPath.
	c.append("RUN rm -rf /output")

	c.append("LABEL ansible-execution-environment=true")
	if behavior.OptionsHonored && c.Definition.Options.User != "" {
		c.append("USER " + string(c.Definition.Options.User))
	}
	c.entrypointSteps()

	return nil
}

// Write persists the assembled steps to the instruction file, one per line,
// overwriting any previous file.
func (c *Containerfile) Write() error {
	var b strings.Builder
	for _, step := range c.steps {
		b.WriteString(step)
		b.WriteString("\n")
	}
	if err := os.WriteFile(c.Path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("Failed to write %s: %w", c.Path, err)
	}
	return nil
}

// globalArgs emits one ARG per recognized build arg in canonical order. The
// top-of-file block carries literal values (quoted, in case they embed
// spaces); stage-local blocks redeclare names only, as multi-stage build
// semantics require. Args whose resolved value is absent are omitted, but an
// empty string still emits so the arg stays overridable at build time.
func (c *Containerfile) globalArgs(includeValues bool) {
	for _, arg := range c.Definition.GlobalArgs() {
		if arg.Value == nil {
			continue
		}
		if includeValues {
			c.append(fmt.Sprintf(`ARG %s="%s"`, arg.Name, *arg.Value))
		} else {
			c.append("ARG " + arg.Name)
		}
	}
	c.append("")
}

// customSteps splices user-declared raw lines for the given section,
// verbatim and unvalidated.
func (c *Containerfile) customSteps(section string) {
	if lines := c.Definition.AdditionalBuildSteps[section]; len(lines) > 0 {
		c.append(lines...)
	}
}

// Version 1 definitions copied the ansible config into the user home during
// the galaxy stage; newer schemas rely on the config staged in /build.
func (c *Containerfile) legacyAnsibleConfigStep() {
	if !c.Definition.Schema.Behavior().LegacyAnsibleConfig {
		return
	}
	if c.Definition.AnsibleConfig == "" {
		return
	}
	c.append(
		fmt.Sprintf("COPY %s ~/.ansible.cfg", path.Join(ContextSubfolder, AnsibleConfigFilename)),
		"",
	)
}

func (c *Containerfile) copyBuildContextSteps() {
	if c.Definition.HasAnyDependency() {
		c.append(
			fmt.Sprintf("COPY %s /build", ContextSubfolder),
			"WORKDIR /build",
			"",
		)
	}
}

func (c *Containerfile) galaxyInstallSteps() {
	env := ""
	installOpts := fmt.Sprintf("-r %s --collections-path \"%s\"", GalaxyFilename, BaseCollectionsPath)

	for _, code := range c.opts.GalaxyIgnoreSignatureStatusCodes {
		installOpts += fmt.Sprintf(" --ignore-signature-status-code %s", code)
	}
	if c.opts.GalaxyRequiredValidSignatureCount > 0 {
		installOpts += fmt.Sprintf(" --required-valid-signature-count %d", c.opts.GalaxyRequiredValidSignatureCount)
	}

	if c.opts.GalaxyKeyring != "" {
		installOpts += fmt.Sprintf(" --keyring \"%s\"", KeyringFilename)
	} else {
		// Older ansible-galaxy releases lack a --disable-gpg-verify flag, so
		// verification is switched off with an environment variable scoped
		// to this one command.
		env = "ANSIBLE_GALAXY_DISABLE_GPG_VERIFY=1 "
	}

	// If nothing gets installed the directory must still exist, or the
	// later COPY --from=galaxy step would fail.
	c.append("RUN mkdir -p " + path.Dir(strings.TrimSuffix(BaseCollectionsPath, "/")))

	c.append(fmt.Sprintf(
		"RUN ansible-galaxy role install $ANSIBLE_GALAXY_CLI_ROLE_OPTS -r %s --roles-path \"%s\"",
		GalaxyFilename, BaseRolesPath))
	c.append(fmt.Sprintf(
		"RUN %sansible-galaxy collection install $ANSIBLE_GALAXY_CLI_COLLECTION_OPTS %s",
		env, installOpts))
}

// addCopyForFile appends a COPY for the named context file if it was staged,
// reporting whether it was. Callers couple the result to a matching command
// flag: the flag is only valid when the copy happened.
func (c *Containerfile) addCopyForFile(name string) (bool, error) {
	exists, err := files.Exists(filepath.Join(c.OutputsDir, name))
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	// WORKDIR is /build, so the destination is just the bare name.
	c.append(fmt.Sprintf("COPY %s %s", path.Join(ContextSubfolder, name), name))
	return true, nil
}

func (c *Containerfile) introspectAssembleSteps() error {
	if !c.Definition.HasAnyDependency() {
		return nil
	}

	cmd := "RUN $PYCMD /output/scripts/introspect.py introspect"

	for _, req := range []struct {
		option    string
		excOption string
		file      string
	}{
		{"--user-pip", "--exclude-pip-reqs", PipFilename},
		{"--user-bindep", "--exclude-bindep-reqs", BindepFilename},
	} {
		added, err := c.addCopyForFile(req.file)
		if err != nil {
			return err
		}
		if added {
			cmd += fmt.Sprintf(" %s=%s", req.option, req.file)
		}

		excludeFile := "exclude-" + req.file
		added, err = c.addCopyForFile(excludeFile)
		if err != nil {
			return err
		}
		if added {
			cmd += fmt.Sprintf(" %s=%s", req.excOption, excludeFile)
		}
	}

	added, err := c.addCopyForFile(ExcludeCollectionsFilename)
	if err != nil {
		return err
	}
	if added {
		cmd += " --exclude-collection-reqs=" + ExcludeCollectionsFilename
	}

	cmd += " --write-bindep=/tmp/src/bindep.txt --write-pip=/tmp/src/requirements.txt"

	c.append(cmd)
	c.append("RUN /output/scripts/assemble")
	return nil
}

func (c *Containerfile) systemRuntimeDepsSteps() {
	c.append(
		"COPY --from=builder /output/ /output/",
		"RUN /output/scripts/install-from-bindep && rm -rf /output/wheels",
	)
}

func (c *Containerfile) galaxyCopySteps() {
	if c.Definition.DependencyPath("galaxy", false) == "" {
		return
	}
	dirName := path.Dir(strings.TrimSuffix(BaseCollectionsPath, "/"))
	c.append(
		"",
		fmt.Sprintf("COPY --from=%s %s %s", stageGalaxy, dirName, dirName),
		"",
	)
}

func (c *Containerfile) workdirSteps() {
	workdir := strings.TrimSpace(c.Definition.Options.Workdir)
	if workdir == "" {
		return
	}
	c.append(
		fmt.Sprintf("RUN mkdir -p %s && chgrp 0 %s && chmod -R ug+rwx %s", workdir, workdir, workdir),
		"WORKDIR "+workdir,
	)
}

func (c *Containerfile) entrypointSteps() {
	if ep := c.Definition.Options.ContainerInit.Entrypoint; ep != "" {
		c.append("ENTRYPOINT " + string(ep))
	}
	if cmd := c.Definition.Options.ContainerInit.Cmd; cmd != "" {
		c.append("CMD " + string(cmd))
	}
}
