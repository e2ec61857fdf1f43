//go:build !windows

package pathbuf

const nativeSeparator = '/'
