// Package runtime drives the external container runtime that consumes the
// generated build context.
package runtime

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/ansible-community/ee-builder/pkg/util/console"
	"github.com/ansible-community/ee-builder/pkg/util/files"
)

const (
	Podman = "podman"
	Docker = "docker"
)

// outputFilenames maps runtimes onto their native instruction file name. The
// two dialects are interchangeable for every instruction we emit.
var outputFilenames = map[string]string{
	Podman: "Containerfile",
	Docker: "Dockerfile",
}

// Detect returns the preferred container runtime available on PATH,
// defaulting to docker when podman is absent. The located binary must be
// executable by the current user, not merely present.
func Detect() string {
	if path, err := exec.LookPath(Podman); err == nil && files.IsExecutable(path) {
		return Podman
	}
	return Docker
}

// OutputFilename returns the instruction file name for the given runtime.
func OutputFilename(runtimeName string) string {
	if name, ok := outputFilenames[runtimeName]; ok {
		return name
	}
	return outputFilenames[Podman]
}

// BuildCommand assembles the build invocation for the given runtime. A
// build arg with an empty value is passed name-only so the value declared in
// the instruction file applies.
func BuildCommand(runtimeName string, containerfilePath string, tag string, buildArgs map[string]string, contextDir string) []string {
	command := []string{
		runtimeName, "build",
		"-f", containerfilePath,
		"-t", tag,
	}

	for _, key := range sortedKeys(buildArgs) {
		if value := buildArgs[key]; value != "" {
			command = append(command, fmt.Sprintf("--build-arg=%s=%s", key, value))
		} else {
			command = append(command, "--build-arg="+key)
		}
	}

	command = append(command, contextDir)
	return command
}

// Build runs the assembled build command, streaming output to the user.
func Build(runtimeName string, containerfilePath string, tag string, buildArgs map[string]string, contextDir string) error {
	command := BuildCommand(runtimeName, containerfilePath, tag, buildArgs, contextDir)
	console.Debugf("Running '%s'", strings.Join(command, " "))

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build failed: %w", runtimeName, err)
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
