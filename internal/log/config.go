package log

// Config controls the process logger.
type Config struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Time    string `mapstructure:"time" yaml:"time"`
	// File, when set, duplicates output into the named file in addition
	// to stdout.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// DefaultConfig returns the configuration used when none is supplied:
// info-level console output.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Pattern: "%time [%level] %field: %msg\n",
		Time:    "2006-01-02 15:04:05.000",
	}
}
