// Package manager is the coordination layer behind the HTTP API. It ties the
// engine, model files, memory monitor, chunker, chunk store, retrieval and
// task queue together and translates between them and the wire types.
// It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, Start, readiness and status.
//   - models.go: catalog listing, downloads, load/unload and deletion.
//   - documents.go: chunking and background ingestion into the chunk store.
//   - answer.go: retrieval and streamed answers.
//   - tasks.go: task queue views.
//   - convert.go: mapping core types to pkg/types.
package manager
