//go:build !linux && !darwin

package krypto

func lockMemory(b []byte) error   { return nil }
func unlockMemory(b []byte) error { return nil }
