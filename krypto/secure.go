package krypto

// Wipe overwrites a byte slice in place so key material does not outlive its
// use. Every intermediate buffer that touched a key or password goes through
// here before being dropped.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Guard pins a buffer holding key material into resident memory where the
// platform supports it. Best effort: failures are reported but callers treat
// them as advisory.
func Guard(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return lockMemory(b)
}

// Release undoes Guard before the buffer is wiped and dropped.
func Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unlockMemory(b)
}
