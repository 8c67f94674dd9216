// Package bucketing maps opaque session identifiers to stable numeric
// buckets for variant assignment.
//
// The hash is a polynomial rolling hash over the identifier's bytes with
// 32-bit wraparound. It is intentionally not cryptographic: the contract is
// determinism (same identifier, same bucket, across restarts) and roughly
// uniform spread over the ASCII identifier space, nothing more.
package bucketing

// Buckets is the size of the bucket space. Bucket returns values in
// [0, Buckets).
const Buckets = 100

// Bucket returns the stable bucket for an identifier. Pure function of the
// identifier alone: no seed, no clock.
func Bucket(identifier string) int {
	var h int32
	for i := 0; i < len(identifier); i++ {
		h = (h << 5) - h + int32(identifier[i])
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return int(n % Buckets)
}

// InControl reports whether the identifier's bucket falls in the control
// share for the given control percent.
func InControl(identifier string, controlPercent int) bool {
	return Bucket(identifier) < controlPercent
}
