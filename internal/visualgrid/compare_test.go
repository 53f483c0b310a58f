package visualgrid

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/bankcheck/pkg/eyes"
)

func pngBytes(t *testing.T, w, h int, fill color.Color, dots ...image.Point) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	for _, p := range dots {
		img.Set(p.X, p.Y, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompareImages(t *testing.T) {
	white := pngBytes(t, 10, 10, color.White)

	diff, err := compareImages(white, white)
	require.NoError(t, err)
	assert.Equal(t, 0.0, diff)

	diff, err = compareImages(white, pngBytes(t, 10, 10, color.White, image.Pt(0, 0), image.Pt(1, 1)))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, diff, 1e-9)

	diff, err = compareImages(white, pngBytes(t, 5, 5, color.White))
	require.NoError(t, err)
	assert.Equal(t, 1.0, diff)

	_, err = compareImages(white, []byte("not a png"))
	assert.Error(t, err)
}

const page = `<html><body><div class="logo-w"><img src="logo.png"></div>
<ul class="main-menu"><li><span>Card types</span></li></ul><p id="time">closes in: 1h</p></body></html>`

func TestVerdictStrict(t *testing.T) {
	base := eyes.Checkpoint{Name: "Login page", MatchLevel: eyes.Strict, DOM: page}

	st, _, err := verdict(base, base, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Passed, st)

	changed := base
	changed.DOM = `<html><body><div class="logo-w"><img src="logo.png"></div>
<ul class="main-menu"><li><span>Card types</span></li></ul><p id="time">closes in: 2h</p></body></html>`
	st, reason, err := verdict(base, changed, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Unresolved, st)
	assert.NotEmpty(t, reason)
}

func TestVerdictStrictImages(t *testing.T) {
	white := pngBytes(t, 10, 10, color.White)
	dotted := pngBytes(t, 10, 10, color.White, image.Pt(3, 3))
	base := eyes.Checkpoint{Name: "c", MatchLevel: eyes.Strict, DOM: page, Image: white}
	current := base
	current.Image = dotted

	st, _, err := verdict(base, current, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Unresolved, st)

	st, _, err = verdict(base, current, 0.05)
	require.NoError(t, err)
	assert.Equal(t, eyes.Passed, st)
}

func TestVerdictLayoutIgnoresText(t *testing.T) {
	base := eyes.Checkpoint{Name: "Main page", MatchLevel: eyes.Layout, DOM: page}
	textOnly := base
	textOnly.DOM = `<html><body><div class="logo-w"><img src="other.png"></div>
<ul class="main-menu"><li><span>Loans</span></li></ul><p id="time">closes in: 5m</p>
<script>var x = 1;</script></body></html>`

	st, _, err := verdict(base, textOnly, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Passed, st)

	restyled := base
	restyled.DOM = `<html><body><div class="logo-w wide"><img src="logo.png"></div>
<ul class="main-menu"><li><span>Card types</span></li></ul><p id="time">closes in: 1h</p></body></html>`
	st, _, err = verdict(base, restyled, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Unresolved, st)
}

func TestVerdictRegion(t *testing.T) {
	base := eyes.Checkpoint{Name: "menu", MatchLevel: eyes.Strict, Region: "ul.main-menu", DOM: page}
	elsewhere := base
	elsewhere.DOM = `<html><body><h1>new header</h1><ul class="main-menu"><li><span>Card types</span></li></ul></body></html>`

	st, _, err := verdict(base, elsewhere, 0)
	require.NoError(t, err)
	assert.Equal(t, eyes.Passed, st)

	missing := base
	missing.DOM = `<html><body></body></html>`
	st, _, err = verdict(base, missing, 0)
	assert.Error(t, err)
	assert.Equal(t, eyes.Failed, st)
}
