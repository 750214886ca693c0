package containerfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ansible-community/ee-builder/pkg/definition"
	"github.com/ansible-community/ee-builder/pkg/util/console"
)

// writeProject lays out a definition file plus any sibling files it refers
// to, and returns the loaded definition.
func writeProject(t *testing.T, defYAML string, siblings map[string]string) *definition.Definition {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range siblings {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
	defPath := filepath.Join(dir, "execution-environment.yml")
	require.NoError(t, os.WriteFile(defPath, []byte(defYAML), 0o644))

	def, err := definition.Load(defPath)
	require.NoError(t, err)
	return def
}

func prepare(t *testing.T, def *definition.Definition, opts Options) *Containerfile {
	t.Helper()
	cf := New(def, t.TempDir(), "Containerfile", opts)
	require.NoError(t, cf.Prepare())
	return cf
}

func findSteps(steps []string, substr string) []string {
	found := []string{}
	for _, step := range steps {
		if strings.Contains(step, substr) {
			found = append(found, step)
		}
	}
	return found
}

func TestNoGalaxyMeansNoGalaxyStage(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  python: requirements.txt
`, map[string]string{"requirements.txt": "pytz\n"})

	cf := prepare(t, def, Options{})

	require.Empty(t, findSteps(cf.Steps(), "as galaxy"))
	require.Empty(t, findSteps(cf.Steps(), "COPY --from=galaxy"))
}

func TestGalaxyStagePresentWithGalaxyDeps(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  galaxy: requirements.yml
`, map[string]string{"requirements.yml": "collections:\n  - name: community.general\n"})

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.Len(t, findSteps(steps, "FROM base as galaxy"), 1)
	require.Len(t, findSteps(steps, "RUN /output/scripts/check_galaxy"), 1)
	require.Len(t, findSteps(steps, "COPY --from=galaxy /usr/share/ansible /usr/share/ansible"), 2)
	// placeholder directory exists even when nothing gets installed
	require.Len(t, findSteps(steps, "RUN mkdir -p /usr/share/ansible"), 1)
}

func TestCollectionInstallSignatureModes(t *testing.T) {
	defYAML := `
version: 3
dependencies:
  galaxy: requirements.yml
`
	siblings := map[string]string{
		"requirements.yml": "collections: []\n",
		"keyring.gpg":      "not a real keyring",
	}

	t.Run("without keyring, verification is disabled via env", func(t *testing.T) {
		def := writeProject(t, defYAML, siblings)
		cf := prepare(t, def, Options{})

		installs := findSteps(cf.Steps(), "ansible-galaxy collection install")
		require.Len(t, installs, 1)
		require.Contains(t, installs[0], "RUN ANSIBLE_GALAXY_DISABLE_GPG_VERIFY=1 ansible-galaxy collection install")
		require.NotContains(t, installs[0], "--keyring")
	})

	t.Run("with keyring, env prefix never appears", func(t *testing.T) {
		def := writeProject(t, defYAML, siblings)
		cf := prepare(t, def, Options{
			GalaxyKeyring:                     filepath.Join(filepath.Dir(def.Filename), "keyring.gpg"),
			GalaxyRequiredValidSignatureCount: 2,
			GalaxyIgnoreSignatureStatusCodes:  []string{"EXPKEYSIG", "REVKEYSIG"},
		})

		installs := findSteps(cf.Steps(), "ansible-galaxy collection install")
		require.Len(t, installs, 1)
		require.Contains(t, installs[0], `--keyring "keyring.gpg"`)
		require.Contains(t, installs[0], "--required-valid-signature-count 2")
		require.Contains(t, installs[0], "--ignore-signature-status-code EXPKEYSIG")
		require.Contains(t, installs[0], "--ignore-signature-status-code REVKEYSIG")
		require.NotContains(t, installs[0], "ANSIBLE_GALAXY_DISABLE_GPG_VERIFY")

		// the keyring landed in the context under its canonical name
		copied, err := os.ReadFile(filepath.Join(cf.OutputsDir, KeyringFilename))
		require.NoError(t, err)
		require.Equal(t, "not a real keyring", string(copied))
	})
}

func TestArgValuesOnlyAtTopOfFile(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  galaxy: requirements.yml
  python: requirements.txt
`, map[string]string{
		"requirements.yml": "collections: []\n",
		"requirements.txt": "pytz\n",
	})

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	sawFrom := false
	for _, step := range steps {
		if strings.HasPrefix(step, "FROM ") {
			sawFrom = true
		}
		if strings.HasPrefix(step, "ARG ") && strings.Contains(step, "=") {
			require.False(t, sawFrom, "literal ARG value after a FROM: %s", step)
		}
	}
	require.True(t, sawFrom)

	// the top block quotes values so embedded spaces survive
	require.Contains(t, steps[0], `ARG EE_BASE_IMAGE="`)

	// every stage redeclares args before any stage-specific RUN/COPY
	for i, step := range steps {
		if !strings.HasPrefix(step, "FROM ") {
			continue
		}
		for _, later := range steps[i+1:] {
			if strings.HasPrefix(later, "ARG ") {
				break
			}
			if strings.HasPrefix(later, "RUN ") || strings.HasPrefix(later, "COPY ") {
				require.Failf(t, "stage instruction before ARG block", "stage %q runs %q before its args", step, later)
			}
		}
	}
}

func TestDependencyFileRoundTrip(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  python: requirements.txt
`, map[string]string{"requirements.txt": "pytz==2023.3\nrequests\n"})

	// an old mtime must not defeat the copy
	src := filepath.Join(filepath.Dir(def.Filename), "requirements.txt")
	old := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, old, old))

	cf := prepare(t, def, Options{})

	copied, err := os.ReadFile(filepath.Join(cf.OutputsDir, PipFilename))
	require.NoError(t, err)
	require.Equal(t, "pytz==2023.3\nrequests\n", string(copied))

	// rewriting the source with the same stale mtime still propagates
	require.NoError(t, os.WriteFile(src, []byte("only-this\n"), 0o644))
	require.NoError(t, os.Chtimes(src, old, old))

	cf2 := New(def, cf.BuildContext, "Containerfile", Options{})
	require.NoError(t, cf2.Prepare())

	copied, err = os.ReadFile(filepath.Join(cf.OutputsDir, PipFilename))
	require.NoError(t, err)
	require.Equal(t, "only-this\n", string(copied))
}

func TestAdditionalBuildFiles(t *testing.T) {
	def := writeProject(t, `
version: 3
additional_build_files:
  - src: configs/*.cfg
    dest: configs
`, map[string]string{
		"configs/one.cfg": "[one]\n",
		"configs/two.cfg": "[two]\n",
	})

	cf := prepare(t, def, Options{})

	for _, name := range []string{"one.cfg", "two.cfg"} {
		exists, err := os.Stat(filepath.Join(cf.OutputsDir, "configs", name))
		require.NoError(t, err)
		require.False(t, exists.IsDir())
	}
}

func TestAdditionalBuildFilesGlobWithNoMatches(t *testing.T) {
	var buf bytes.Buffer
	oldWriter, oldColor := console.ConsoleInstance.Writer, console.ConsoleInstance.Color
	console.ConsoleInstance.Writer = &buf
	console.ConsoleInstance.Color = false
	defer func() {
		console.ConsoleInstance.Writer = oldWriter
		console.ConsoleInstance.Color = oldColor
	}()

	def := writeProject(t, `
version: 3
additional_build_files:
  - src: missing/*.cfg
    dest: configs
`, nil)

	cf := prepare(t, def, Options{})

	require.Empty(t, findSteps(cf.Steps(), "configs"))
	require.Equal(t, 1, strings.Count(buf.String(), "No matches for 'missing/*.cfg'"))
}

func TestAbsoluteBuildFileMissingWarnsAndSkips(t *testing.T) {
	var buf bytes.Buffer
	oldWriter, oldColor := console.ConsoleInstance.Writer, console.ConsoleInstance.Color
	console.ConsoleInstance.Writer = &buf
	console.ConsoleInstance.Color = false
	defer func() {
		console.ConsoleInstance.Writer = oldWriter
		console.ConsoleInstance.Color = oldColor
	}()

	def := writeProject(t, `
version: 3
additional_build_files:
  - src: /definitely/not/here.cfg
    dest: configs
`, nil)

	cf := prepare(t, def, Options{})
	require.NotNil(t, cf)
	require.Equal(t, 1, strings.Count(buf.String(), "does not exist"))
}

func TestV3PythonOnlyScenario(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  python: requirements.txt
`, map[string]string{"requirements.txt": "pytz\n"})

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	froms := []string{}
	for _, step := range steps {
		if strings.HasPrefix(step, "FROM ") {
			froms = append(froms, step)
		}
	}
	require.Equal(t, []string{
		"FROM $EE_BASE_IMAGE as base",
		"FROM base as builder",
		"FROM base as final",
	}, froms)

	introspects := findSteps(steps, "introspect.py introspect")
	require.Len(t, introspects, 1)
	require.Equal(t, 1, strings.Count(introspects[0], "--user-pip=requirements.txt"))
	require.NotContains(t, introspects[0], "--user-bindep")
	require.NotContains(t, introspects[0], "--exclude-pip-reqs")

	// the copy and the flag are coupled
	require.Len(t, findSteps(steps, "COPY _build/requirements.txt requirements.txt"), 1)
	require.Empty(t, findSteps(steps, "COPY _build/bindep.txt"))

	// assemble runs whenever any dependency resolved
	require.Len(t, findSteps(steps, "RUN /output/scripts/assemble"), 1)
}

func TestNoDependenciesSkipsIntrospection(t *testing.T) {
	def := writeProject(t, "version: 3\n", nil)
	cf := prepare(t, def, Options{})

	require.Empty(t, findSteps(cf.Steps(), "introspect.py"))
	require.Empty(t, findSteps(cf.Steps(), "RUN /output/scripts/assemble"))
	// base stage still installs the introspection trio for the reused image
	require.Len(t, findSteps(cf.Steps(), "RUN $PYCMD -m pip install --no-cache-dir bindep pyyaml packaging"), 1)
}

func TestExcludeFilesCoupledToFlags(t *testing.T) {
	def := writeProject(t, `
version: 3
dependencies:
  python: requirements.txt
  system: bindep.txt
  exclude:
    python: exclude-reqs.txt
    all_from_collections:
      - community.general
`, map[string]string{
		"requirements.txt": "pytz\n",
		"bindep.txt":       "git\n",
		"exclude-reqs.txt": "pytz\n",
	})

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	introspects := findSteps(steps, "introspect.py introspect")
	require.Len(t, introspects, 1)
	cmd := introspects[0]
	require.Contains(t, cmd, "--user-pip=requirements.txt")
	require.Contains(t, cmd, "--exclude-pip-reqs=exclude-requirements.txt")
	require.Contains(t, cmd, "--user-bindep=bindep.txt")
	require.NotContains(t, cmd, "--exclude-bindep-reqs")
	require.Contains(t, cmd, "--exclude-collection-reqs=exclude-collections.txt")
	require.True(t, strings.HasSuffix(cmd, "--write-bindep=/tmp/src/bindep.txt --write-pip=/tmp/src/requirements.txt"))

	list, err := os.ReadFile(filepath.Join(cf.OutputsDir, ExcludeCollectionsFilename))
	require.NoError(t, err)
	require.Equal(t, "community.general", string(list))
}

func TestEntrypointAndCmdPassThrough(t *testing.T) {
	def := writeProject(t, `
version: 3
options:
  container_init:
    entrypoint: "/bin/sh"
    cmd: ["-c", "true"]
`, nil)

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.GreaterOrEqual(t, len(steps), 2)
	require.Equal(t, "ENTRYPOINT /bin/sh", steps[len(steps)-2])
	require.Equal(t, "CMD -c true", steps[len(steps)-1])
}

func TestFinalStageOptions(t *testing.T) {
	def := writeProject(t, `
version: 3
options:
  relax_passwd_permissions: true
  workdir: /runner
  user: 1000
  skip_ansible_check: true
  container_init:
    package_pip: dumb-init==1.2.5
`, nil)

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.Len(t, findSteps(steps, "RUN chmod ug+rw /etc/passwd"), 1)
	require.Len(t, findSteps(steps, "RUN mkdir -p /runner && chgrp 0 /runner && chmod -R ug+rwx /runner"), 1)
	require.Len(t, findSteps(steps, "WORKDIR /runner"), 1)
	require.Len(t, findSteps(steps, "RUN $PYCMD -m pip install --no-cache-dir 'dumb-init==1.2.5'"), 1)
	require.Len(t, findSteps(steps, "USER 1000"), 1)
	require.Empty(t, findSteps(steps, "check_ansible"))

	// /output is purged after everything that needs it
	purge := findSteps(steps, "RUN rm -rf /output")
	require.Len(t, purge, 1)
	require.Len(t, findSteps(steps, "LABEL ansible-execution-environment=true"), 1)
}

func TestAnsibleCheckDefaultOnForV3(t *testing.T) {
	def := writeProject(t, "version: 3\n", nil)
	cf := prepare(t, def, Options{})
	require.Len(t, findSteps(cf.Steps(), "RUN /output/scripts/check_ansible $PYCMD"), 1)

	def = writeProject(t, "version: 2\n", nil)
	cf = prepare(t, def, Options{})
	require.Empty(t, findSteps(cf.Steps(), "check_ansible"))
}

func TestBuilderStageFromBaseForV2(t *testing.T) {
	def := writeProject(t, `
version: 2
dependencies:
  python_interpreter:
    package_system: python311
`, nil)
	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.Len(t, findSteps(steps, "FROM base as builder"), 1)
	require.Empty(t, findSteps(steps, "FROM $EE_BUILDER_IMAGE as builder"))
	require.Len(t, findSteps(steps, "RUN $PYCMD -m pip install --no-cache-dir bindep pyyaml packaging"), 1)
	require.Empty(t, findSteps(steps, "COPY _build/scripts/pip_install /output/scripts/pip_install"))

	// without a dedicated builder image the base stage installs the
	// interpreter itself
	require.Len(t, findSteps(steps, "RUN $PKGMGR install $PYPKG -y ; if [ -z $PKGMGR_PRESERVE_CACHE ]; then $PKGMGR clean all; fi"), 1)
}

func TestConfiguredBuilderImageForV2(t *testing.T) {
	def := writeProject(t, `
version: 2
images:
  builder_image:
    name: registry.example.com/builder:9
dependencies:
  python_interpreter:
    package_system: python311
`, nil)
	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.Len(t, findSteps(steps, "FROM $EE_BUILDER_IMAGE as builder"), 1)
	// builder image may lack pip, so the bootstrap script is staged and run
	require.Len(t, findSteps(steps, "COPY _build/scripts/pip_install /output/scripts/pip_install"), 1)
	require.Len(t, findSteps(steps, "RUN /output/scripts/pip_install $PYCMD"), 1)
	require.Empty(t, findSteps(steps, "bindep pyyaml packaging"))

	// the configured builder carries the toolchain, so the base stage skips
	// the interpreter install
	require.Empty(t, findSteps(steps, "RUN $PKGMGR install $PYPKG -y ; if [ -z $PKGMGR_PRESERVE_CACHE ]; then $PKGMGR clean all; fi"))
}

func TestBuilderImageAlwaysUsedForV1(t *testing.T) {
	def := writeProject(t, `
version: 1
dependencies:
  python_interpreter:
    package_system: python311
`, nil)
	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	require.Len(t, findSteps(steps, "FROM $EE_BUILDER_IMAGE as builder"), 1)
	require.Len(t, findSteps(steps, "COPY _build/scripts/pip_install /output/scripts/pip_install"), 1)

	// no builder image was configured, so the base stage still installs the
	// interpreter
	require.Len(t, findSteps(steps, "RUN $PKGMGR install $PYPKG -y ; if [ -z $PKGMGR_PRESERVE_CACHE ]; then $PKGMGR clean all; fi"), 1)
}

func TestCustomStepsSplicedVerbatim(t *testing.T) {
	def := writeProject(t, `
version: 3
additional_build_steps:
  prepend_base: |
    RUN echo start
    RUN echo again
  append_final:
    - RUN echo done
`, nil)

	cf := prepare(t, def, Options{})
	steps := cf.Steps()

	startIdx := -1
	for i, step := range steps {
		if step == "RUN echo start" {
			startIdx = i
			break
		}
	}
	require.NotEqual(t, -1, startIdx)
	require.Equal(t, "RUN echo again", steps[startIdx+1])
	require.Len(t, findSteps(steps, "RUN echo done"), 1)
}

func TestScriptsStagedAndCopied(t *testing.T) {
	def := writeProject(t, "version: 3\n", nil)
	cf := prepare(t, def, Options{})

	for _, name := range []string{"assemble", "install-from-bindep", "introspect.py", "check_galaxy", "check_ansible", "pip_install", "entrypoint"} {
		info, err := os.Stat(filepath.Join(cf.OutputsDir, "scripts", name))
		require.NoError(t, err, name)
		require.NotZero(t, info.Size(), name)
	}

	steps := cf.Steps()
	require.Len(t, findSteps(steps, "COPY _build/scripts/ /output/scripts/"), 1)
	require.Len(t, findSteps(steps, "COPY _build/scripts/entrypoint /opt/builder/bin/entrypoint"), 1)
}

func TestAnsibleConfigStaged(t *testing.T) {
	def := writeProject(t, `
version: 1
dependencies:
  galaxy: requirements.yml
ansible_config: ansible.cfg
`, map[string]string{
		"requirements.yml": "roles: []\n",
		"ansible.cfg":      "[defaults]\n",
	})

	cf := prepare(t, def, Options{})

	copied, err := os.ReadFile(filepath.Join(cf.OutputsDir, AnsibleConfigFilename))
	require.NoError(t, err)
	require.Equal(t, "[defaults]\n", string(copied))

	// v1 keeps the legacy home-directory copy inside the galaxy stage
	require.Len(t, findSteps(cf.Steps(), "COPY _build/ansible.cfg ~/.ansible.cfg"), 1)
}

func TestWriteOneInstructionPerLine(t *testing.T) {
	def := writeProject(t, "version: 3\n", nil)
	cf := prepare(t, def, Options{})
	require.NoError(t, cf.Write())

	contents, err := os.ReadFile(cf.Path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
	require.Equal(t, cf.Steps(), lines)

	// overwrites any previous file
	require.NoError(t, os.WriteFile(cf.Path, []byte("stale"), 0o644))
	require.NoError(t, cf.Write())
	contents, err = os.ReadFile(cf.Path)
	require.NoError(t, err)
	require.NotContains(t, string(contents), "stale")
}
