// Package engine is the single authority for which model is loaded and how to
// call it. It is structured into small files by concern:
//
//   - orchestrator.go: Orchestrator type, Config, backend registration, state map.
//   - load.go: LoadModel/UnloadModel and the memory-pressure policy.
//   - infer.go: Generate/GenerateComplete/Embed/EmbedBatch/TokenCount.
//   - types.go: ModelConfig, ModelState and generation parameters.
//   - backend.go: GenerationBackend/EmbeddingBackend contracts and the handle guard.
//   - errors.go: typed errors and IsXxx predicates.
//   - backend_llama*.go: in-process go-llama.cpp backend.
//   - backend_server.go: llama.cpp server backend (spawned or attached).
//
// Build tags and runtimes:
//
//   - In-process llama: go-llama.cpp, enabled with `-tags=llama`
//     (backend_llama.go, llama_cgo.go). Without the tag a CGO-free stub is
//     compiled whose Load fails with a dependency-unavailable error.
//   - llama-server: always available; needs a llama-server binary on PATH or
//     an already running server to attach to.
//
// Every public method returns errors instead of panicking; failed loads are
// also reflected in the per-model ModelState so callers can render them.
package engine
