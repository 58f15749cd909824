package indicator

import (
	"encoding/binary"
	"image"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// surface is a display a Screen renders onto.
type surface interface {
	Bounds() image.Rectangle
	Flush(img *image.RGBA) error
	Close() error
}

type screenState struct {
	text    string
	r, g, b float64
}

var (
	screenOnline     = screenState{"Ready", 0, 0.5, 0}
	screenTap        = screenState{"Tap Sent", 0.8, 0.7, 0}
	screenConnection = screenState{"Connection Lost", 0.5, 0.3, 0}
	screenFault      = screenState{"Reader Fault", 0.7, 0, 0}
)

// Screen implements Indicator on a full-screen display, one coloured
// panel per state.
type Screen struct {
	mu     sync.Mutex
	surf   surface
	img    *image.RGBA
	dc     *gg.Context
	font   string
	flash  time.Duration
	timer  *time.Timer
	steady *screenState
}

// NewScreen opens the framebuffer at path. font is a TrueType file; the
// built-in bitmap face is used when it is empty or fails to load.
func NewScreen(path, font string, tapFlash time.Duration) (*Screen, error) {
	surf, err := openFramebuffer(path)
	if err != nil {
		return nil, err
	}
	return newScreen(surf, font, tapFlash), nil
}

func newScreen(surf surface, font string, flash time.Duration) *Screen {
	if flash <= 0 {
		flash = defaultTapFlash
	}
	img := image.NewRGBA(surf.Bounds())
	return &Screen{
		surf:  surf,
		img:   img,
		dc:    gg.NewContextForRGBA(img),
		font:  font,
		flash: flash,
	}
}

// Online implements Indicator.Online.
func (s *Screen) Online() {
	s.show(&screenOnline)
}

// Tap implements Indicator.Tap.
func (s *Screen) Tap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.draw(&screenTap)
	s.timer = time.AfterFunc(s.flash, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.draw(s.steady)
	})
}

// ConnectionLost implements Indicator.ConnectionLost.
func (s *Screen) ConnectionLost() {
	s.show(&screenConnection)
}

// ReaderFault implements Indicator.ReaderFault.
func (s *Screen) ReaderFault() {
	s.show(&screenFault)
}

// Shutdown implements Indicator.Shutdown.
func (s *Screen) Shutdown() {
	s.show(nil)
}

// Release implements Indicator.Release.
func (s *Screen) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.steady = nil
	s.draw(nil)
	return s.surf.Close()
}

func (s *Screen) show(st *screenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.steady = st
	s.draw(st)
}

// draw renders st, or a blank screen for nil. Caller holds mu.
func (s *Screen) draw(st *screenState) {
	b := s.img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	if st == nil {
		s.dc.SetRGB(0, 0, 0)
		s.dc.Clear()
	} else {
		s.dc.SetRGB(st.r, st.g, st.b)
		s.dc.DrawRectangle(0, 0, w, h)
		s.dc.Fill()

		s.setFontSize(h / 6)
		s.dc.SetRGB(1, 1, 1)
		s.dc.DrawStringAnchored(st.text, w/2, h/2, 0.5, 0.5)
	}
	_ = s.surf.Flush(s.img)
}

func (s *Screen) setFontSize(size float64) {
	if s.font != "" && s.dc.LoadFontFace(s.font, size) == nil {
		return
	}
	s.dc.SetFontFace(basicfont.Face7x13)
}

// packRGB565 converts img into a little-endian 16bpp framebuffer image with
// the given line length in bytes.
func packRGB565(dst []byte, img *image.RGBA, stride int) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			px := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
			i := y*stride + x*2
			if i+1 < len(dst) {
				binary.LittleEndian.PutUint16(dst[i:], px)
			}
		}
	}
}
