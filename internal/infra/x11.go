package infra

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

var x11AtomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// X11Session implements domain.WindowInfo, domain.FrameSource and
// domain.PermissionManager over a single X connection. On X11 the
// connection is the permission: Repair re-dials it.
type X11Session struct {
	display string
	logger  *zap.Logger

	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
	bpp   map[byte]byte // bits per pixel by depth
}

// NewX11Session connects to display (empty means $DISPLAY).
func NewX11Session(display string, logger *zap.Logger) (*X11Session, error) {
	s := &X11Session{
		display: display,
		logger:  logger.Named("x11"),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *X11Session) connect() error {
	conn, err := xgb.NewConnDisplay(s.display)
	if err != nil {
		return fmt.Errorf("%w: connect to X display: %w", domain.ErrPermissionDenied, err)
	}

	atoms := make(map[string]xproto.Atom, len(x11AtomNames))
	for _, name := range x11AtomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return fmt.Errorf("intern atom %s: %w", name, err)
		}
		atoms[name] = reply.Atom
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	bpp, err := checkPixmapFormat(setup, screen.RootDepth)
	if err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.root = screen.Root
	s.atoms = atoms
	s.bpp = bpp
	return nil
}

// checkPixmapFormat verifies the server hands out 32 bits-per-pixel
// little-endian ZPixmaps at the root depth, the only layout Capture decodes.
func checkPixmapFormat(setup *xproto.SetupInfo, rootDepth byte) (map[byte]byte, error) {
	bpp := make(map[byte]byte, len(setup.PixmapFormats))
	for _, f := range setup.PixmapFormats {
		bpp[f.Depth] = f.BitsPerPixel
	}
	if setup.ImageByteOrder != xproto.ImageOrderLSBFirst {
		return nil, fmt.Errorf("%w: X server uses big-endian images", domain.ErrCaptureFatal)
	}
	if rootDepth < 24 || bpp[rootDepth] != 32 {
		return nil, fmt.Errorf("%w: unsupported X visual: depth %d at %d bits per pixel, need depth 24 or 32 at 32",
			domain.ErrCaptureFatal, rootDepth, bpp[rootDepth])
	}
	return bpp, nil
}

// ActiveWindow returns the focused top-level window. AppName is the
// WM_CLASS class (falling back to the instance name).
func (s *X11Session) ActiveWindow(ctx context.Context) (domain.WindowSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return domain.WindowSnapshot{}, domain.ErrPermissionDenied
	}

	win, err := s.activeWindow()
	if err != nil {
		return domain.WindowSnapshot{}, err
	}

	instance, class := s.windowClass(win)
	app := class
	if app == "" {
		app = instance
	}
	return domain.WindowSnapshot{
		AppName:     app,
		WindowTitle: s.windowName(win),
		WindowID:    uint32(win),
		PID:         int(s.windowPID(win)),
	}, nil
}

// MimeType returns the encoding of captured frames.
func (s *X11Session) MimeType() string {
	return "image/png"
}

// Capture grabs the given window, or the root window when it has no ID,
// and encodes it as PNG.
func (s *X11Session) Capture(ctx context.Context, window domain.WindowSnapshot) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, domain.ErrPermissionDenied
	}

	drawable := xproto.Drawable(s.root)
	if window.WindowID != 0 {
		drawable = xproto.Drawable(window.WindowID)
	}

	geom, err := xproto.GetGeometry(s.conn, drawable).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: window geometry: %w", domain.ErrCaptureFailed, err)
	}

	reply, err := xproto.GetImage(s.conn, xproto.ImageFormatZPixmap, drawable,
		0, 0, geom.Width, geom.Height, 0xffffffff).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: get image: %w", domain.ErrCaptureFailed, err)
	}
	if s.bpp[reply.Depth] != 32 {
		return nil, fmt.Errorf("%w: window depth %d is not 32 bits per pixel", domain.ErrCaptureFailed, reply.Depth)
	}

	img, err := zpixmapToRGBA(reply.Data, int(geom.Width), int(geom.Height))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureFailed, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", domain.ErrCaptureFailed, err)
	}
	return buf.Bytes(), nil
}

// HasPermission reports whether the X server answers requests.
func (s *X11Session) HasPermission(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return false
	}
	_, err := xproto.GetInputFocus(s.conn).Reply()
	return err == nil
}

// Repair drops the connection and dials again.
func (s *X11Session) Repair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.logger.Info("reconnecting to X display", zap.String("display", s.display))
	return s.connect()
}

// Close closes the X connection.
func (s *X11Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

func (s *X11Session) property(win xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(s.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (s *X11Session) activeWindow() (xproto.Window, error) {
	data, err := s.property(s.root, s.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if err == nil && len(data) >= 4 {
		if win := xproto.Window(binary.LittleEndian.Uint32(data)); win != 0 {
			return win, nil
		}
	}

	// Window managers without EWMH: walk up from the input focus.
	focus, err := xproto.GetInputFocus(s.conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("%w: input focus: %w", domain.ErrCaptureFailed, err)
	}
	if focus.Focus == 0 || focus.Focus == s.root {
		return 0, fmt.Errorf("%w: no active window", domain.ErrCaptureFailed)
	}
	return s.topLevel(focus.Focus), nil
}

func (s *X11Session) topLevel(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(s.conn, win).Reply()
		if err != nil || reply.Parent == s.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (s *X11Session) windowName(win xproto.Window) string {
	data, err := s.property(win, s.atoms["_NET_WM_NAME"], s.atoms["UTF8_STRING"], 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	data, err = s.property(win, s.atoms["WM_NAME"], xproto.AtomString, 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

func (s *X11Session) windowClass(win xproto.Window) (instance, class string) {
	data, err := s.property(win, s.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil || len(data) == 0 {
		return "", ""
	}
	return parseWMClass(data)
}

func (s *X11Session) windowPID(win xproto.Window) uint32 {
	data, err := s.property(win, s.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

// parseWMClass splits the NUL-separated WM_CLASS value.
func parseWMClass(data []byte) (instance, class string) {
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

// zpixmapToRGBA converts a 32 bits-per-pixel little-endian ZPixmap (BGRX)
// into an opaque RGBA image.
func zpixmapToRGBA(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", width, height)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("short image data: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		o := i * 4
		img.Pix[o+0] = data[o+2]
		img.Pix[o+1] = data[o+1]
		img.Pix[o+2] = data[o+0]
		img.Pix[o+3] = 0xff
	}
	return img, nil
}

// LinuxSessionDetector implements domain.SessionDetector with loginctl.
type LinuxSessionDetector struct {
	runner    CommandRunner
	sessionID string
}

// NewLinuxSessionDetector creates a lock detector for sessionID
// (empty means the caller's session).
func NewLinuxSessionDetector(runner CommandRunner, sessionID string) *LinuxSessionDetector {
	if sessionID == "" {
		sessionID = "auto"
	}
	return &LinuxSessionDetector{runner: runner, sessionID: sessionID}
}

// IsLocked reads the session's LockedHint.
func (d *LinuxSessionDetector) IsLocked(ctx context.Context) (bool, error) {
	out, err := d.runner.Output(ctx, "loginctl", "show-session", d.sessionID, "-p", "LockedHint")
	if err != nil {
		return false, fmt.Errorf("loginctl: %w", err)
	}
	return strings.TrimSpace(string(out)) == "LockedHint=yes", nil
}

// Ensure the X11 adapters implement their interfaces.
var (
	_ domain.WindowInfo        = (*X11Session)(nil)
	_ domain.FrameSource       = (*X11Session)(nil)
	_ domain.PermissionManager = (*X11Session)(nil)
	_ domain.SessionDetector   = (*LinuxSessionDetector)(nil)
)
