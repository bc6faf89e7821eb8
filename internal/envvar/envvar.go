package envvar

// Names of environment variables consulted directly. Everything else is
// bound through struct tags in the config package.
const (
	// NeuTTSEnv selects the deployment environment and with it the log format.
	NeuTTSEnv = "NEUTTS_ENV"

	// NeuTTSConfigPath points at an optional config file.
	NeuTTSConfigPath = "NEUTTS_CONFIG"

	// HFHome is the Hugging Face cache directory handed to child processes.
	HFHome = "HF_HOME"
)
