//go:build !unix

package audio

func canRead(string) bool { return true }
