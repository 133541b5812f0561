package console

import (
	"runtime"

	"github.com/tangara-fw/tangara-go/internal/db"
)

// numGoroutine and memStats stand in for original_source's FreeRTOS
// uxTaskGetSystemState/heap_caps_get_free_size introspection, which has
// no host-OS equivalent: the Go runtime scheduler doesn't expose a
// per-task table, so `tasks`/`heaps` report the closest Go-native
// analogues instead.
func numGoroutine() int {
	return runtime.NumGoroutine()
}

func memStats() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

func dbSchemaVersion() int {
	return db.SchemaVersion
}
