//go:build !unix && !windows

package fsops

func IsTransient(err error) bool {
	return false
}
