package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"llmbridge/internal/client"
	"llmbridge/pkg/types"
)

const defaultServer = "http://127.0.0.1:8080"

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", envStr("LLMBRIDGE_SERVER", defaultServer), "Base URL of a running llmbridge server")
}

func dialRemote(cmd *cobra.Command, st *state) (*client.Remote, error) {
	server, _ := cmd.Flags().GetString("server")
	return client.NewRemote(server, client.WithRemoteLogger(&st.log))
}

func newGenerateCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Load a model on a server and stream one response",
		Example: "  llmbridge generate --asset gemma-2b-it-cpu-int4.bin \"Write a haiku\"\n" +
			"  llmbridge generate --model /models/llava.task --image cat.png \"What is this?\"",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, image, err := generateConfig(cmd, st)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			stream, _ := cmd.Flags().GetBool("stream")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			remote, err := dialRemote(cmd, st)
			if err != nil {
				return err
			}
			if stream {
				if err := remote.Connect(ctx); err != nil {
					return err
				}
			}
			defer remote.Close()

			b := client.New(remote, client.WithLogger(&st.log))
			defer b.Close()
			b.Configure(cfg)
			if err := b.WaitReady(ctx); err != nil {
				return fmt.Errorf("load model: %w", err)
			}

			var mu sync.Mutex
			printed := 0
			opts := []client.GenerateOption{
				client.OnPartial(func(acc string) {
					mu.Lock()
					defer mu.Unlock()
					if len(acc) > printed {
						fmt.Fprint(st.out, acc[printed:])
						printed = len(acc)
					}
				}),
				client.OnError(func(err error) { st.log.Warn().Err(err).Msg("generation error") }),
			}
			prompt := strings.Join(args, " ")
			var out string
			if image != "" {
				out, err = b.GenerateResponseWithImage(ctx, prompt, image, opts...)
			} else {
				out, err = b.GenerateResponse(ctx, prompt, opts...)
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if printed < len(out) {
				fmt.Fprint(st.out, out[printed:])
			}
			fmt.Fprintln(st.out)
			return nil
		},
	}
	addServerFlag(cmd)
	f := cmd.Flags()
	f.String("model", "", "Model file path on the server")
	f.String("asset", "", "Bundled asset name")
	f.String("image", "", "Image file to attach (enables the vision modality)")
	f.Int("max-tokens", 0, "Maximum tokens")
	f.Int("top-k", 0, "Top-k sampling")
	f.Float32("temperature", 0, "Sampling temperature")
	f.Int("seed", 0, "Random seed")
	f.Bool("gpu", false, "Prefer the GPU backend")
	f.Bool("stream", true, "Print partial responses as they arrive")
	f.Duration("timeout", 5*time.Minute, "Overall deadline")
	return cmd
}

// generateConfig builds the model config from flags over the configured
// defaults and returns the base64 image payload, if any.
func generateConfig(cmd *cobra.Command, st *state) (types.ModelConfig, string, error) {
	f := cmd.Flags()
	model, _ := f.GetString("model")
	asset, _ := f.GetString("asset")
	if (model == "") == (asset == "") {
		return types.ModelConfig{}, "", errors.New("exactly one of --model or --asset is required")
	}
	p := st.cfg.Defaults
	if f.Changed("max-tokens") {
		p.MaxTokens, _ = f.GetInt("max-tokens")
	}
	if f.Changed("top-k") {
		p.TopK, _ = f.GetInt("top-k")
	}
	if f.Changed("temperature") {
		p.Temperature, _ = f.GetFloat32("temperature")
	}
	if f.Changed("seed") {
		p.RandomSeed, _ = f.GetInt("seed")
	}
	if f.Changed("gpu") {
		p.PreferGPU, _ = f.GetBool("gpu")
	}

	var image string
	if path, _ := f.GetString("image"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return types.ModelConfig{}, "", fmt.Errorf("read image: %w", err)
		}
		image = base64.StdEncoding.EncodeToString(raw)
		p.EnableVisionModality = true
	}

	cfg := types.NewPathConfig(model, p)
	if asset != "" {
		cfg = types.NewAssetConfig(asset, p)
	}
	return cfg, image, cfg.Validate()
}

func newAssetsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List bundled model assets on a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := dialRemote(cmd, st)
			if err != nil {
				return err
			}
			list, err := remote.Assets(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(st.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tCACHED")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%d\t%t\n", a.Name, a.SizeBytes, a.Cached)
			}
			return tw.Flush()
		},
	}
	addServerFlag(cmd)
	return cmd
}

func newMemoryCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Print a server memory snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := dialRemote(cmd, st)
			if err != nil {
				return err
			}
			ms, err := remote.GetMemoryStats().Await(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st, ms)
		},
	}
	addServerFlag(cmd)
	return cmd
}

func newStatusCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print loaded models on a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := dialRemote(cmd, st)
			if err != nil {
				return err
			}
			status, err := remote.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st, status)
		},
	}
	addServerFlag(cmd)
	return cmd
}

func printJSON(st *state, v any) error {
	enc := json.NewEncoder(st.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
