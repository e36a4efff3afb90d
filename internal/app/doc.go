// Package app assembles a configured stackforge process. From one Settings
// value it builds the logger, the run tracker, blob storage, the package
// manager, the snapshot manager and the orchestrator on top of them,
// decoupled from any specific entrypoint like a CLI or server.
package app
