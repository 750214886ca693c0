package global

var (
	Version   = "0.0.1"
	BuildTime = "none"
	Verbose   = false

	// DefinitionFilename is the default execution environment file looked up
	// when -f is not given.
	DefinitionFilename = "execution-environment.yml"
)
