package logx

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds the logging-related command-line flags shared by every cmd/* binary.
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugTransport  bool
	DebugCrypto     bool
	DebugRegistry   bool
	DebugElection   bool
	DebugHost       bool
	DebugSignaling  bool
	DebugAll        bool
}

// RegisterFlags registers the shared logging flags on fs, matching the
// `--log-file`/`--log-level` surface every ACIP binary exposes.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")
	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")

	fs.BoolVar(&f.DebugTransport, "debug-transport", false, "Enable transport dial/keepalive/reassembly debugging")
	fs.BoolVar(&f.DebugCrypto, "debug-crypto", false, "Enable handshake and AEAD framing debugging")
	fs.BoolVar(&f.DebugRegistry, "debug-registry", false, "Enable session registry debugging")
	fs.BoolVar(&f.DebugElection, "debug-election", false, "Enable NAT-quality/host-election debugging")
	fs.BoolVar(&f.DebugHost, "debug-host", false, "Enable star-topology host debugging")
	fs.BoolVar(&f.DebugSignaling, "debug-signaling", false, "Enable signaling relay debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts parsed Flags into a logx.Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(CategoryAll)
	}
	if f.DebugTransport {
		cfg.EnableCategory(CategoryTransport)
	}
	if f.DebugCrypto {
		cfg.EnableCategory(CategoryCrypto)
	}
	if f.DebugRegistry {
		cfg.EnableCategory(CategoryRegistry)
	}
	if f.DebugElection {
		cfg.EnableCategory(CategoryElection)
	}
	if f.DebugHost {
		cfg.EnableCategory(CategoryHost)
	}
	if f.DebugSignaling {
		cfg.EnableCategory(CategorySignaling)
	}
	if cfg.IsDebugEnabled() && cfg.Level != LevelDebug {
		cfg.Level = LevelDebug
	}

	return cfg, nil
}

// String renders the active flag selection for a startup log line.
func (f *Flags) String() string {
	var cats []string
	for name, on := range map[string]bool{
		"transport": f.DebugTransport, "crypto": f.DebugCrypto, "registry": f.DebugRegistry,
		"election": f.DebugElection, "host": f.DebugHost, "signaling": f.DebugSignaling,
	} {
		if on {
			cats = append(cats, name)
		}
	}
	if f.DebugAll {
		cats = []string{"all"}
	}
	return fmt.Sprintf("level=%s format=%s file=%q debug=%s", f.LogLevel, f.LogFormat, f.LogFile, strings.Join(cats, ","))
}

// PrintUsageExamples prints a block of example invocations shared across binaries.
func PrintUsageExamples() {
	fmt.Fprintln(os.Stderr, "\nExamples:")
	fmt.Fprintln(os.Stderr, "  --log-level debug --debug-transport --debug-crypto")
	fmt.Fprintln(os.Stderr, "  --log-format json --log-file /var/log/ascii-chat.log")
}
