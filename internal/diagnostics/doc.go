// Package diagnostics provides host resource checks, crash dumps and a
// resource monitor for long-running docforge processes.
//
// The package implements four components:
//
//   - Preflight: checks free memory and disk before each generation call so
//     a starved host fails the call early instead of mid-write.
//
//   - CrashDumpWriter: persists panic details recovered at the task boundary
//     of a phase runner, enabling post-mortem debugging.
//
//   - ResourceMonitor: periodically samples goroutines, heap and file
//     descriptors while `docforge serve` runs and logs concerning trends.
//
//   - SystemCollector: gathers CPU, memory, disk, load and GPU information
//     for `docforge doctor`.
//
// Configuration is managed through DiagnosticsConfig in the config package.
package diagnostics
