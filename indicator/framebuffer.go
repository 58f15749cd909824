//go:build screen && linux

package indicator

import (
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/d21d3q/framebuffer"
)

// ScreenSupported reports whether framebuffer support is compiled in.
func ScreenSupported() bool {
	return true
}

type framebufferSurface struct {
	pix    []byte
	back   []byte
	width  int
	height int
	stride int
}

func openFramebuffer(path string) (surface, error) {
	fb, err := framebuffer.OpenFrameBuffer(path, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}
	varInfo, err := fb.VarScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get variable screen info: %w", err)
	}
	fixedInfo, err := fb.FixScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get fixed screen info: %w", err)
	}
	if varInfo.BitsPerPixel != 16 {
		return nil, fmt.Errorf("framebuffer %s: %d bpp not supported, want 16", path, varInfo.BitsPerPixel)
	}
	pix, err := fb.Pixels()
	if err != nil {
		return nil, fmt.Errorf("get pixel data: %w", err)
	}

	s := &framebufferSurface{
		pix:    pix,
		width:  int(varInfo.XRes),
		height: int(varInfo.YRes),
		stride: int(fixedInfo.LineLength),
	}
	s.back = make([]byte, s.height*s.stride)
	slog.Info("framebuffer opened", "path", path, "width", s.width, "height", s.height, "stride", s.stride)
	return s, nil
}

func (s *framebufferSurface) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.width, s.height)
}

func (s *framebufferSurface) Flush(img *image.RGBA) error {
	packRGB565(s.back, img, s.stride)
	copy(s.pix, s.back)
	return nil
}

func (s *framebufferSurface) Close() error {
	clear(s.pix)
	return nil
}
