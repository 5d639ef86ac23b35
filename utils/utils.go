package utils

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting — Stack Buffers, No fmt
///////////////////////////////////////////////////////////////////////////////

// Itoa formats a signed integer in base 10.
//
//go:nosplit
//go:inline
func Itoa(n int) string {
	if n < 0 {
		return "-" + Utoa(uint64(-n))
	}
	return Utoa(uint64(n))
}

// Utoa formats an unsigned integer in base 10 using a fixed stack buffer.
//
//go:nosplit
//go:inline
func Utoa(u uint64) string {
	var buf [20]byte
	i := len(buf)
	for u >= 10 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	i--
	buf[i] = byte('0' + u)
	return string(buf[i:])
}

// Hex formats u as a 0x-prefixed lowercase hex string without leading zeros.
//
//go:nosplit
//go:inline
func Hex(u uint64) string {
	const digits = "0123456789abcdef"
	var buf [18]byte
	i := len(buf)
	for {
		i--
		buf[i] = digits[u&0xf]
		u >>= 4
		if u == 0 {
			break
		}
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

///////////////////////////////////////////////////////////////////////////////
// Hash & Mixers
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Used to spread token secrets and test seeds.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

///////////////////////////////////////////////////////////////////////////////
// Raw Output — Direct fd 2 Writes
///////////////////////////////////////////////////////////////////////////////

// PrintWarning writes msg straight to stderr with a single write(2).
// Partial writes are retried; errors are dropped since there is nowhere
// left to report them.
//
//go:nosplit
//go:inline
func PrintWarning(msg string) {
	b := unsafe.Slice(unsafe.StringData(msg), len(msg))
	for len(b) > 0 {
		n, err := unix.Write(2, b)
		if err != nil || n <= 0 {
			return
		}
		b = b[n:]
	}
}
