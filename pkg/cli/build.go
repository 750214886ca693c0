package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ansible-community/ee-builder/pkg/runtime"
	"github.com/ansible-community/ee-builder/pkg/util/console"
)

var (
	buildTag  string
	buildArgs []string
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate the build context and build the image",
		Args:  cobra.NoArgs,
		RunE:  buildCommand,
	}
	addGenerateFlags(cmd)
	cmd.Flags().StringVarP(&buildTag, "tag", "t", "ansible-execution-env:latest", "A name for the built image in the form 'repository:tag'")
	cmd.Flags().StringArrayVar(&buildArgs, "build-arg", []string{}, "Build arg to pass to the container runtime, in the form 'NAME=VALUE' (or 'NAME' to unset a default)")
	return cmd
}

func buildCommand(cmd *cobra.Command, args []string) error {
	cf, err := generate()
	if err != nil {
		return err
	}

	runtimeName := runtimeFlag
	if runtimeName == "" {
		runtimeName = runtime.Detect()
	}

	if err := runtime.Build(runtimeName, cf.Path, buildTag, parseBuildArgs(buildArgs), cf.BuildContext); err != nil {
		return err
	}

	console.Infof("\nImage built as %s", buildTag)
	return nil
}

func parseBuildArgs(pairs []string) map[string]string {
	parsed := map[string]string{}
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		parsed[key] = value
	}
	return parsed
}
