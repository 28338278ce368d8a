// Package timeouts defines shared timeout constants used across the layer.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// RefreshJob caps the time one derived-view recomputation may run before the
// queue entry is marked failed.
const RefreshJob = time.Minute

// ReconcileSubject caps the per-subject check during the nightly audit so a
// single stuck subject cannot stall the whole pass.
const ReconcileSubject = 5 * time.Second

// Shutdown limits how long background loops wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
