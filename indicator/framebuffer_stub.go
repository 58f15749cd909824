//go:build !screen || !linux

package indicator

import "errors"

// ErrScreenNotCompiled is returned when framebuffer support was not compiled in.
var ErrScreenNotCompiled = errors.New("screen support not compiled in (build with -tags=screen)")

// ScreenSupported reports whether framebuffer support is compiled in.
func ScreenSupported() bool {
	return false
}

func openFramebuffer(string) (surface, error) {
	return nil, ErrScreenNotCompiled
}
