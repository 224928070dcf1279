package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmbridge/internal/bridge"
	"llmbridge/pkg/types"
)

type server struct {
	svc Service
}

// NewMux builds the HTTP API router over svc.
func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(InflightMiddleware)
		r.Post("/v1/models", s.handleCreateModel)
		r.Post("/v1/models/asset", s.handleCreateModelFromAsset)
		r.Delete("/v1/models/{handle}", s.handleReleaseModel)
		r.Post("/v1/models/{handle}/generate", s.handleGenerate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			r.Get("/v1/memory", s.handleMemory)
			r.Get("/v1/assets", s.handleAssets)
			r.Get("/status", s.handleStatus)
		})
	})

	// long-lived; tracked by the events stream gauge instead
	r.Get("/v1/events", s.handleEvents)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// It writes the error response itself and reports whether decoding worked.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func handleParam(w http.ResponseWriter, r *http.Request) (types.Handle, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "handle must be an integer")
		return 0, false
	}
	return types.Handle(n), true
}

// await waits for c, reporting an abandoned call as superseded.
func await[T any](ctx context.Context, c *bridge.Call[T]) (T, error) {
	select {
	case <-c.Done():
		return c.Await(context.Background())
	case <-c.Abandoned():
		var zero T
		return zero, errSuperseded
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// writeWaitError handles errors from await. A client that went away gets no
// response.
func writeWaitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case r.Context().Err() != nil:
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "timed out waiting for the model")
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusServiceUnavailable, "server shutting down")
	default:
		writeError(w, err)
	}
}

// handleCreateModel loads a model from a filesystem path.
//
// @Summary  Load a model from a path
// @Tags     models
// @Accept   json
// @Produce  json
// @Param    body  body      types.CreateModelRequest  true  "model config"
// @Success  201   {object}  types.CreateModelResponse
// @Failure  400   {object}  types.ErrorResponse
// @Failure  422   {object}  types.ErrorResponse
// @Router   /v1/models [post]
func (s *server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req types.CreateModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	s.create(w, r, s.svc.CreateModel(types.NewPathConfig(req.Path, req.Params())))
}

// handleCreateModelFromAsset loads a bundled asset.
//
// @Summary  Load a bundled model asset
// @Tags     models
// @Accept   json
// @Produce  json
// @Param    body  body      types.CreateModelRequest  true  "asset name and params"
// @Success  201   {object}  types.CreateModelResponse
// @Failure  404   {object}  types.ErrorResponse
// @Failure  422   {object}  types.ErrorResponse
// @Router   /v1/models/asset [post]
func (s *server) handleCreateModelFromAsset(w http.ResponseWriter, r *http.Request) {
	var req types.CreateModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AssetName) == "" {
		writeJSONError(w, http.StatusBadRequest, "assetName is required")
		return
	}
	s.create(w, r, s.svc.CreateModelFromAsset(req.AssetName, req.Params()))
}

func (s *server) create(w http.ResponseWriter, r *http.Request, c *bridge.Call[types.Handle]) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	h, err := await(ctx, c)
	log := reqLogger(r)
	if err != nil {
		log.Info().Err(err).Msg("create model failed")
		writeWaitError(w, r, err)
		return
	}
	log.Info().Int64("handle", int64(h)).Msg("model created")
	writeJSON(w, http.StatusCreated, types.CreateModelResponse{Handle: h})
}

// handleReleaseModel releases a handle.
//
// @Summary  Release a model
// @Tags     models
// @Produce  json
// @Param    handle  path      int  true  "model handle"
// @Success  200     {object}  types.ReleaseModelResponse
// @Failure  404     {object}  types.ErrorResponse
// @Router   /v1/models/{handle} [delete]
func (s *server) handleReleaseModel(w http.ResponseWriter, r *http.Request) {
	h, ok := handleParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	released, err := await(ctx, s.svc.ReleaseModel(h))
	if err != nil {
		writeWaitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ReleaseModelResponse{Released: released})
}

// handleGenerate runs a generation. With Accept: application/x-ndjson the
// accumulated partial responses stream as NDJSON lines before the final one.
//
// @Summary  Generate a response
// @Tags     generate
// @Accept   json
// @Produce  json
// @Produce  application/x-ndjson
// @Param    handle  path      int                    true  "model handle"
// @Param    body    body      types.GenerateRequest  true  "prompt and optional image"
// @Success  200     {object}  types.GenerateResponse
// @Failure  400     {object}  types.ErrorResponse
// @Failure  404     {object}  types.ErrorResponse
// @Failure  409     {object}  types.ErrorResponse
// @Failure  502     {object}  types.ErrorResponse
// @Router   /v1/models/{handle}/generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	h, ok := handleParam(w, r)
	if !ok {
		return
	}
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	log := reqLogger(r).With().Int64("handle", int64(h)).Int64("gen_request_id", int64(req.RequestID)).Logger()
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Str("path", r.URL.Path).Bool("image", req.Image != nil).Msg("generate start")
	}

	ctx, cancel := handlerContext(r.Context())
	defer cancel()

	if strings.Contains(r.Header.Get("Accept"), "application/x-ndjson") {
		s.streamGenerate(ctx, w, r, h, req, lvl)
		if lvl >= LevelInfo {
			log.Info().Dur("dur", time.Since(start)).Msg("generate end")
		}
		return
	}

	out, err := await(ctx, s.generate(h, req))
	if err != nil {
		if lvl >= LevelError {
			log.Warn().Int("status", statusFor(err)).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
		}
		writeWaitError(w, r, err)
		return
	}
	if lvl >= LevelInfo {
		log.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("generate end")
	}
	writeJSON(w, http.StatusOK, types.GenerateResponse{Handle: h, RequestID: req.RequestID, Response: out})
}

func (s *server) generate(h types.Handle, req types.GenerateRequest) *bridge.Call[string] {
	if req.Image != nil {
		return s.svc.GenerateResponseWithImage(h, req.RequestID, req.Prompt, *req.Image)
	}
	return s.svc.GenerateResponse(h, req.RequestID, req.Prompt)
}

// handleMemory returns a memory snapshot.
//
// @Summary  Memory diagnostics
// @Tags     diagnostics
// @Produce  json
// @Success  200  {object}  types.MemoryStats
// @Router   /v1/memory [get]
func (s *server) handleMemory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	ms, err := await(ctx, s.svc.GetMemoryStats())
	if err != nil {
		writeWaitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// handleAssets lists bundled model assets.
//
// @Summary  List bundled assets
// @Tags     models
// @Produce  json
// @Success  200  {object}  types.AssetsResponse
// @Router   /v1/assets [get]
func (s *server) handleAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListAssets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AssetsResponse{Assets: list})
}

// handleStatus reports loaded models.
//
// @Summary  Registry status
// @Tags     diagnostics
// @Produce  json
// @Success  200  {object}  types.StatusResponse
// @Router   /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}
