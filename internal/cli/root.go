// Package cli implements the llmbridge command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmbridge/internal/config"
)

// state is shared by every command of one invocation.
type state struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	out        io.Writer
	errOut     io.Writer
}

// MainWithArgs runs the CLI and returns a process exit code.
func MainWithArgs(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, out, errOut io.Writer) int {
	root := buildRootCmd(out, errOut)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

// buildRootCmd constructs the command tree. Persistent flags override the
// config file, which overrides LLMBRIDGE_* environment values.
func buildRootCmd(out, errOut io.Writer) *cobra.Command {
	st := &state{out: out, errOut: errOut, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "llmbridge",
		Short:         "On-device LLM inference bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&st.configPath, "config", envStr("LLMBRIDGE_CONFIG", ""), "Config file (.yaml|.yml|.json|.toml)")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: console|json")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(st.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Log.Level, _ = flags.GetString("log-level")
		}
		if flags.Changed("log-format") {
			cfg.Log.Format, _ = flags.GetString("log-format")
		}
		log, err := newLogger(errOut, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		st.cfg, st.log = cfg, log
		return nil
	}

	root.AddCommand(
		newServeCmd(st),
		newGenerateCmd(st),
		newAssetsCmd(st),
		newMemoryCmd(st),
		newStatusCmd(st),
	)
	return root
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
