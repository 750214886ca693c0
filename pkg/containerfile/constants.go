package containerfile

// ContextSubfolder is the subdirectory of the build context that holds all
// generated and staged content referenced by COPY instructions.
const ContextSubfolder = "_build"

// Canonical destination names inside the context subfolder.
const (
	GalaxyFilename             = "requirements.yml"
	PipFilename                = "requirements.txt"
	BindepFilename             = "bindep.txt"
	ExcludeCollectionsFilename = "exclude-collections.txt"
	KeyringFilename            = "keyring.gpg"
	AnsibleConfigFilename      = "ansible.cfg"
)

// Fixed in-image paths.
const (
	BaseRolesPath       = "/usr/share/ansible/roles"
	BaseCollectionsPath = "/usr/share/ansible/collections"
	FinalImageBinPath   = "/opt/builder/bin"
)

// stageName labels one phase of the multi-stage build.
type stageName string

const (
	stageBase    stageName = "base"
	stageGalaxy  stageName = "galaxy"
	stageBuilder stageName = "builder"
	stageFinal   stageName = "final"
)

// contextFileNames maps dependency categories onto their canonical names
// inside the context, in staging order. Exclude variants get an "exclude-"
// prefix.
var contextFileNames = []struct {
	category string
	name     string
}{
	{"galaxy", GalaxyFilename},
	{"python", PipFilename},
	{"system", BindepFilename},
}
