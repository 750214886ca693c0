package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ansible-community/ee-builder/pkg/global"
	"github.com/ansible-community/ee-builder/pkg/util/console"
)

var (
	definitionFlag     string
	contextFlag        string
	runtimeFlag        string
	outputFilenameFlag string

	galaxyKeyringFlag     string
	galaxySigCountFlag    int
	galaxyIgnoreCodesFlag []string
)

func NewRootCommand() (*cobra.Command, error) {
	rootCmd := cobra.Command{
		Use:     "ee-builder",
		Short:   "Build container images for ansible execution environments",
		Version: fmt.Sprintf("%s (built %s)", global.Version, global.BuildTime),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.Verbose {
				console.SetLevel(console.DebugLevel)
			}
			cmd.SilenceUsage = true
		},
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newCreateCommand(),
		newBuildCommand(),
	)

	return &rootCmd, nil
}

func addGenerateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&definitionFlag, "file", "f", global.DefinitionFilename, "Execution environment definition file")
	cmd.Flags().StringVarP(&contextFlag, "context", "c", "context", "Directory to use for the build context")
	cmd.Flags().StringVar(&runtimeFlag, "container-runtime", "", "Container runtime to generate for, 'podman' or 'docker' (default: autodetect)")
	cmd.Flags().StringVar(&outputFilenameFlag, "output-filename", "", "Name of the generated instruction file (default: based on the container runtime)")
	addGalaxySigningFlags(cmd.Flags())
}

func addGalaxySigningFlags(flags *pflag.FlagSet) {
	flags.StringVar(&galaxyKeyringFlag, "galaxy-keyring", "", "GPG keyring for ansible-galaxy collection signature verification")
	flags.IntVar(&galaxySigCountFlag, "galaxy-required-valid-signature-count", 0, "Number of valid collection signatures ansible-galaxy requires")
	flags.StringArrayVar(&galaxyIgnoreCodesFlag, "galaxy-ignore-signature-status-code", []string{}, "GPG status code for ansible-galaxy to ignore, may be given multiple times")
}
