package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmbridge/internal/assets"
	"llmbridge/internal/bridge"
	"llmbridge/internal/config"
	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/internal/httpapi"
	"llmbridge/internal/manager"
	"llmbridge/internal/memstats"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP/WebSocket bridge",
		Example: "  llmbridge serve --addr :8080 --assets-dir ~/models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := applyServeFlags(cmd, st.cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, st.log)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address, e.g. :8080")
	f.String("assets-dir", "", "Directory of bundled model assets")
	f.String("cache-dir", "", "Directory for materialized asset copies")
	f.String("s3-bucket", "", "Serve bundled assets from this S3 bucket")
	f.String("s3-prefix", "", "Key prefix within the S3 bucket")
	f.String("engine", "", "Text engine: auto|llama|shim")
	f.String("shim-library", "", "Path to the native inference shim library")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	f.Int64("max-body-bytes", 0, "Request body limit in bytes")
	f.Int64("generate-timeout", 0, "Generate wait limit in seconds (0 disables)")
	f.String("http-log", "", "Per-request log level: off|error|info|debug")
	return cmd
}

// applyServeFlags overlays explicitly set serve flags onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	var over config.Config
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("addr", &over.Addr)
	str("assets-dir", &over.Assets.Dir)
	str("cache-dir", &over.Assets.CacheDir)
	str("engine", &over.Engine.Text)
	str("shim-library", &over.Engine.ShimLibrary)
	str("http-log", &over.Log.HTTP)
	if f.Changed("max-body-bytes") {
		over.MaxBodyBytes, _ = f.GetInt64("max-body-bytes")
	}
	if f.Changed("generate-timeout") {
		over.GenerateTimeoutSeconds, _ = f.GetInt64("generate-timeout")
	}
	if f.Changed("cors-origins") {
		v, _ := f.GetString("cors-origins")
		over.CORS.Enabled = true
		over.CORS.AllowedOrigins = config.SplitCSV(v)
	}
	if f.Changed("s3-bucket") {
		s3 := assets.S3Config{}
		if cfg.Assets.S3 != nil {
			s3 = *cfg.Assets.S3
		}
		s3.Bucket, _ = f.GetString("s3-bucket")
		over.Assets.S3 = &s3
	}
	if f.Changed("s3-prefix") {
		if over.Assets.S3 == nil && cfg.Assets.S3 == nil {
			return cfg, errors.New("--s3-prefix requires an S3 bucket")
		}
		if over.Assets.S3 == nil {
			s3 := *cfg.Assets.S3
			over.Assets.S3 = &s3
		}
		over.Assets.S3.Prefix, _ = f.GetString("s3-prefix")
	}
	return config.Merge(cfg, over), nil
}

// stack is the assembled in-process service.
type stack struct {
	bus      *events.Bus
	manager  *manager.Manager
	resolver *assets.Resolver
	bridge   *bridge.Bridge
	handler  http.Handler
}

func textLoader(cfg config.EngineConfig, shim engine.Loader) (engine.Loader, error) {
	switch strings.ToLower(cfg.Text) {
	case "", "auto":
		if engine.LlamaBuilt {
			return engine.NewLlamaLoader(cfg.LlamaContextSize, cfg.LlamaThreads, cfg.LlamaGPULayers), nil
		}
		return shim, nil
	case "llama":
		if !engine.LlamaBuilt {
			return nil, errors.New("llama engine requested but binary was built without the llama tag")
		}
		return engine.NewLlamaLoader(cfg.LlamaContextSize, cfg.LlamaThreads, cfg.LlamaGPULayers), nil
	case "shim":
		return shim, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Text)
	}
}

func assetSource(cfg config.AssetsConfig) (assets.Source, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Bucket != "":
		return assets.NewS3Source(assets.NewS3Client(*cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix), nil
	case cfg.Dir != "":
		d, err := assets.NewDirSource(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}

// buildStack wires the event bus, registry, asset resolver, bridge and HTTP
// handler from cfg. It also applies the HTTP layer settings.
func buildStack(cfg config.Config, log zerolog.Logger) (*stack, error) {
	shim := engine.NewShimLoader(cfg.Engine.ShimLibrary)
	text, err := textLoader(cfg.Engine, shim)
	if err != nil {
		return nil, err
	}
	src, err := assetSource(cfg.Assets)
	if err != nil {
		return nil, err
	}

	s := &stack{bus: events.NewBus()}
	mcfg := manager.ManagerConfig{
		TextLoader:   text,
		VisionLoader: shim,
		Publisher:    s.bus,
		Logger:       &log,
	}
	var lister httpapi.AssetLister
	if src != nil {
		if s.resolver, err = assets.NewResolver(src, cfg.Assets.CacheDir, &log); err != nil {
			return nil, err
		}
		mcfg.Assets = s.resolver
		lister = s.resolver
	}
	s.manager = manager.NewWithConfig(mcfg)
	mem := memstats.New(s.manager.Len)
	s.bridge = bridge.New(s.manager, s.bus, mem.Snapshot, &log)

	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.Log.HTTP)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeoutSeconds(cfg.GenerateTimeoutSeconds)
	httpapi.SetEventBuffer(cfg.EventBuffer)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	s.handler = httpapi.NewMux(httpapi.NewService(s.bridge, s.manager, lister))
	return s, nil
}

// close releases every handle and waits for in-flight bridge work.
func (s *stack) close(ctx context.Context) error {
	err := s.manager.Close()
	if werr := s.bridge.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// runServe listens on cfg.Addr until ctx is done, then shuts down.
func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return serveOn(ctx, ln, cfg, log)
}

func serveOn(ctx context.Context, ln net.Listener, cfg config.Config, log zerolog.Logger) error {
	s, err := buildStack(cfg, log)
	if err != nil {
		ln.Close()
		return err
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("assets_dir", cfg.Assets.Dir).Msg("llmbridge listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	// Waiting generate handlers and event streams observe the base context.
	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := s.close(sctx); err != nil {
		log.Warn().Err(err).Msg("release models")
	}
	return nil
}
