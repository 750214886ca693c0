package cli

import (
	"github.com/spf13/cobra"

	"github.com/ansible-community/ee-builder/pkg/containerfile"
	"github.com/ansible-community/ee-builder/pkg/definition"
	"github.com/ansible-community/ee-builder/pkg/runtime"
	"github.com/ansible-community/ee-builder/pkg/util/console"
)

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate the build context and instruction file without building",
		Args:  cobra.NoArgs,
		RunE:  createCommand,
	}
	addGenerateFlags(cmd)
	return cmd
}

func createCommand(cmd *cobra.Command, args []string) error {
	cf, err := generate()
	if err != nil {
		return err
	}

	console.Infof("Complete! The build context can be found at: %s", cf.BuildContext)
	return nil
}

// generate loads the definition, stages the build context, and writes the
// instruction file. Both create and build start here.
func generate() (*containerfile.Containerfile, error) {
	def, err := definition.Load(definitionFlag)
	if err != nil {
		return nil, err
	}

	runtimeName := runtimeFlag
	if runtimeName == "" {
		runtimeName = runtime.Detect()
	}
	outputFilename := outputFilenameFlag
	if outputFilename == "" {
		outputFilename = runtime.OutputFilename(runtimeName)
	}

	cf := containerfile.New(def, contextFlag, outputFilename, containerfile.Options{
		GalaxyKeyring:                     galaxyKeyringFlag,
		GalaxyRequiredValidSignatureCount: galaxySigCountFlag,
		GalaxyIgnoreSignatureStatusCodes:  galaxyIgnoreCodesFlag,
	})
	if err := cf.Prepare(); err != nil {
		return nil, err
	}
	if err := cf.Write(); err != nil {
		return nil, err
	}

	console.Debugf("Wrote %s", cf.Path)
	return cf, nil
}
