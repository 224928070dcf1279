// Package manager is the model registry. It maps handles to instances, each
// owning one engine and at most one in-flight generation. It is structured
// into small files by concern:
//
//   - manager.go: Manager type, Create/CreateFromAsset, engine construction, Dispatch.
//   - config.go: ManagerConfig and NewWithConfig.
//   - types.go: Instance and generation state.
//   - inference.go: Instance.Generate (supersession, streaming) and Close.
//   - unload.go: Release and Close.
//   - status_report.go: Status reporting.
//   - errors.go: ErrSuperseded.
//   - metrics.go: Prometheus collectors.
//
// Engines come from internal/engine. Text-only models use the configured text
// loader; models with the vision modality always run on the CPU backend of a
// vision-capable loader. A GPU request that the engine cannot honor is retried
// on the CPU and reported as a logging event.
//
// There is no queueing: a new Generate on a handle supersedes the running one,
// whose call returns ErrSuperseded and publishes nothing more.
package manager
