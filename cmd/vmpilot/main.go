// vmpilot builds and inspects virtualized instruction streams.
package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/vmpilot/common"
	"github.com/colorfulnotion/vmpilot/config"
	"github.com/colorfulnotion/vmpilot/crypto"
	log "github.com/colorfulnotion/vmpilot/log"
	"github.com/spf13/cobra"
)

type app struct {
	cfgPath  string
	key      string
	digest   string
	logLevel string
	modules  string
	logJSON  bool
	noColor  bool

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, common.Colorize(err.Error(), common.ColorRed, true))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "vmpilot",
		Short: "Opcode-obfuscated instruction stream tooling",
		Long: `vmpilot assembles instruction streams into encrypted bundles, decodes
them back with the runtime decoder, dumps the key-derived opcode tables and
locates marked regions in x86 binaries.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd) },
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Path to vmpilot.toml")
	pf.StringVar(&a.key, "key", "", "Secret key (overrides config and $"+config.KeyEnv+")")
	pf.StringVar(&a.digest, "digest", "", "Keyed digest ordering the opcode table: blake3 | blake2b")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&a.modules, "debug", "", "Comma separated modules to debug, or \"all\"")
	pf.BoolVar(&a.logJSON, "log-json", false, "Emit logs as JSON")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newOptableCmd(a),
		newAssembleCmd(a),
		newDecodeCmd(a),
		newSegmentCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads configuration, applies flag overrides and initializes logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.cfgPath != "" {
		var err error
		if cfg, err = config.Load(a.cfgPath); err != nil {
			return err
		}
	}
	if a.digest != "" {
		cfg.Digest = a.digest
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.modules != "" {
		cfg.Log.Modules = a.modules
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = a.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if cfg.Log.JSON {
		log.InitJSONLogger(cfg.Log.Level)
	} else {
		log.InitLogger(cfg.Log.Level)
	}
	log.EnableModules(cfg.Log.Modules)
	log.Debug(log.CLIMonitoring, "configuration loaded", "command", cmd.Name(), "config", a.cfgPath, "digest", cfg.Digest, "workers", cfg.Workers)
	return nil
}

func (a *app) resolveKey() (string, error) {
	if a.key != "" {
		return a.key, nil
	}
	return a.cfg.ResolveKey()
}

func (a *app) keyedDigest() (crypto.KeyedDigest, error) {
	return a.cfg.KeyedDigest()
}

func (a *app) color(s, c string) string {
	return common.Colorize(s, c, !a.noColor)
}
