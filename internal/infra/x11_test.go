package infra

import (
	"context"
	"testing"

	"github.com/jezek/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

func TestParseWMClass(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantInstance string
		wantClass    string
	}{
		{"instance and class", "code\x00Code\x00", "code", "Code"},
		{"instance only", "xterm\x00", "xterm", ""},
		{"browser", "Navigator\x00firefox\x00", "Navigator", "firefox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, class := parseWMClass([]byte(tt.data))
			assert.Equal(t, tt.wantInstance, instance)
			assert.Equal(t, tt.wantClass, class)
		})
	}
}

func TestZpixmapToRGBA(t *testing.T) {
	// 2x1 image: blue pixel, red pixel in BGRX order.
	data := []byte{
		0xff, 0x00, 0x00, 0x00,
		0x00, 0x00, 0xff, 0x00,
	}

	img, err := zpixmapToRGBA(data, 2, 1)
	require.NoError(t, err)

	assert.Equal(t, []uint8{0x00, 0x00, 0xff, 0xff}, img.Pix[0:4])
	assert.Equal(t, []uint8{0xff, 0x00, 0x00, 0xff}, img.Pix[4:8])

	_, err = zpixmapToRGBA(data, 4, 4)
	assert.Error(t, err)
	_, err = zpixmapToRGBA(nil, 0, 0)
	assert.Error(t, err)
}

func TestCheckPixmapFormat(t *testing.T) {
	formats := []xproto.Format{
		{Depth: 1, BitsPerPixel: 1},
		{Depth: 16, BitsPerPixel: 16},
		{Depth: 24, BitsPerPixel: 32},
		{Depth: 32, BitsPerPixel: 32},
	}
	tests := []struct {
		name      string
		order     byte
		formats   []xproto.Format
		depth     byte
		wantFatal bool
	}{
		{"depth 24 at 32 bpp", xproto.ImageOrderLSBFirst, formats, 24, false},
		{"depth 32", xproto.ImageOrderLSBFirst, formats, 32, false},
		{"16 bit server", xproto.ImageOrderLSBFirst, formats, 16, true},
		{"packed 24 bpp", xproto.ImageOrderLSBFirst, []xproto.Format{{Depth: 24, BitsPerPixel: 24}}, 24, true},
		{"big endian", xproto.ImageOrderMSBFirst, formats, 24, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := &xproto.SetupInfo{ImageByteOrder: tt.order, PixmapFormats: tt.formats}

			bpp, err := checkPixmapFormat(setup, tt.depth)
			if tt.wantFatal {
				assert.ErrorIs(t, err, domain.ErrCaptureFatal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(32), bpp[tt.depth])
		})
	}
}

func TestLinuxSessionDetector_IsLocked(t *testing.T) {
	runner := newMockCommandRunner()
	runner.outputs["loginctl"] = []byte("LockedHint=yes\n")

	locked, err := NewLinuxSessionDetector(runner, "").IsLocked(context.Background())

	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, []string{"loginctl show-session auto -p LockedHint"}, runner.commands())

	runner.outputs["loginctl"] = []byte("LockedHint=no\n")
	locked, err = NewLinuxSessionDetector(runner, "c2").IsLocked(context.Background())
	require.NoError(t, err)
	assert.False(t, locked)
}
