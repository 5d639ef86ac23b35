// ════════════════════════════════════════════════════════════════════════════════════════════════
// Spin Hint - Fallback
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Cross-Platform Compatibility Layer
//
// Description:
//   No-op spin hints for architectures without a wired PAUSE, and for builds with assembly or
//   cgo disabled.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build !amd64 || !cgo || noasm || nocgo

package cpu

// RelaxN is a no-op on this platform.
//
//go:nosplit
func RelaxN(int) {}
