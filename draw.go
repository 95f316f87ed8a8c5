package assetpreview

import (
	"image"
	"image/color"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var (
	colorLabel     = color.NRGBA{R: 0xf5, G: 0xf5, B: 0xf5, A: 0xff}
	colorError     = color.NRGBA{R: 0xd3, G: 0x2f, B: 0x2f, A: 0xff}
	colorWire      = color.NRGBA{R: 0x9e, G: 0xe4, B: 0x93, A: 0xff}
	colorWireBg    = color.NRGBA{R: 0x1b, G: 0x1f, B: 0x24, A: 0xff}
	colorLetterbox = color.NRGBA{R: 0x26, G: 0x26, B: 0x26, A: 0xff}
)

var kindColors = map[string]color.NRGBA{
	"scene": {R: 0x3f, G: 0x51, B: 0xb5, A: 0xff},
	"ma":    {R: 0x00, G: 0x89, B: 0x7b, A: 0xff},
	"mb":    {R: 0x00, G: 0x69, B: 0x5c, A: 0xff},
	"obj":   {R: 0xef, G: 0x6c, B: 0x00, A: 0xff},
	"fbx":   {R: 0x6a, G: 0x1b, B: 0x9a, A: 0xff},
	"ply":   {R: 0x55, G: 0x8b, B: 0x2f, A: 0xff},
	"abc":   {R: 0x79, G: 0x55, B: 0x48, A: 0xff},
	"usd":   {R: 0x45, G: 0x5a, B: 0x64, A: 0xff},
}

// kindColor returns the placeholder color of a file kind. Unknown kinds get
// a stable color derived from the kind name.
func kindColor(kind string) color.NRGBA {
	if c, ok := kindColors[kind]; ok {
		return c
	}
	sum := xxhash.Sum64String(kind)
	return color.NRGBA{
		R: 0x40 + uint8(sum%0x80),
		G: 0x40 + uint8((sum>>8)%0x80),
		B: 0x40 + uint8((sum>>16)%0x80),
		A: 0xff,
	}
}

func darken(c color.NRGBA, f float64) color.NRGBA {
	return color.NRGBA{R: uint8(float64(c.R) * f), G: uint8(float64(c.G) * f), B: uint8(float64(c.B) * f), A: c.A}
}

// drawLabel writes text centered horizontally, baseline at y. Text that
// does not fit is cut.
func drawLabel(img *image.NRGBA, text string, y int, c color.Color) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: basicfont.Face7x13}
	width := img.Bounds().Dx()
	text = fitLabel(d, text, width-2)
	if text == "" {
		return
	}
	x := (width - d.MeasureString(text).Ceil()) / 2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

// fitLabel drops trailing runes until text measures at most width pixels.
func fitLabel(d *font.Drawer, text string, width int) string {
	for text != "" && d.MeasureString(text).Ceil() > width {
		_, n := utf8.DecodeLastRuneInString(text)
		text = text[:len(text)-n]
	}
	return text
}

// drawPlaceholder renders the labeled placeholder of a file kind. The error
// variant adds a red frame and an ERR tag so it stays distinct.
func drawPlaceholder(kind string, size Size, errState bool) *image.NRGBA {
	bg := kindColor(kind)
	img := imaging.New(size.Width, size.Height, bg)

	label := strings.ToUpper(kind)
	if label == "" {
		label = "?"
	}
	drawLabel(img, label, size.Height/2+5, colorLabel)

	if errState {
		border := max(1, min(size.Width, size.Height)/16)
		fillRect(img, image.Rect(0, 0, size.Width, border), colorError)
		fillRect(img, image.Rect(0, size.Height-border, size.Width, size.Height), colorError)
		fillRect(img, image.Rect(0, 0, border, size.Height), colorError)
		fillRect(img, image.Rect(size.Width-border, 0, size.Width, size.Height), colorError)
		if size.Height >= 32 {
			drawLabel(img, "ERR", 13+border, colorError)
		}
	}
	return img
}

// drawSummary renders the tier-1 complexity glyph: a polygon whose side
// count grows with the number of structural records, and one bar per record
// type scaled logarithmically.
func drawSummary(s *fileSummary, size Size) *image.NRGBA {
	base := kindColor(s.Kind)
	img := imaging.New(size.Width, size.Height, darken(base, 0.45))

	w, h := float32(size.Width), float32(size.Height)
	cx, cy := w/2, h*0.4
	radius := 0.3 * float32(math.Min(float64(w), float64(h)))
	sides := 3 + int(math.Log2(float64(s.Complexity()+1)))
	sides = min(sides, 16)

	r := vector.NewRasterizer(size.Width, size.Height)
	for i := 0; i <= sides; i++ {
		a := 2*math.Pi*float64(i%sides)/float64(sides) - math.Pi/2
		x := cx + radius*float32(math.Cos(a))
		y := cy + radius*float32(math.Sin(a))
		if i == 0 {
			r.MoveTo(x, y)
		} else {
			r.LineTo(x, y)
		}
	}
	r.ClosePath()
	r.Draw(img, img.Bounds(), image.NewUniform(base), image.Point{})

	names := make([]string, 0, len(s.Records))
	for name := range s.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		barArea := image.Rect(size.Width/8, size.Height*3/4, size.Width*7/8, size.Height*15/16)
		slot := max(1, barArea.Dx()/len(names))
		for i, name := range names {
			frac := math.Log10(float64(s.Records[name])+1) / 6
			frac = math.Min(frac, 1)
			top := barArea.Max.Y - int(frac*float64(barArea.Dy()))
			x0 := barArea.Min.X + i*slot
			fillRect(img, image.Rect(x0, top, x0+max(1, slot-1), barArea.Max.Y), colorLabel)
		}
	}

	if size.Height >= 48 {
		drawLabel(img, strings.ToUpper(s.Kind), size.Height*3/4-2, colorLabel)
	}
	return img
}

// drawApproximation draws a wireframe-style outline of the loaded objects:
// one box per object, columns by hierarchy depth, and a line from each
// object to its parent.
func drawApproximation(infos []ObjectInfo, size Size) *image.NRGBA {
	img := imaging.New(size.Width, size.Height, colorWireBg)
	if len(infos) == 0 {
		return img
	}

	byRef := make(map[Ref]ObjectInfo, len(infos))
	for _, info := range infos {
		byRef[info.Ref] = info
	}
	depth := func(ref Ref) int {
		d := 0
		for seen := 0; seen < len(infos); seen++ {
			info, ok := byRef[ref]
			if !ok || info.Parent == "" {
				break
			}
			ref = info.Parent
			d++
		}
		return d
	}

	columns := map[int][]Ref{}
	maxDepth := 0
	for _, info := range infos {
		d := depth(info.Ref)
		columns[d] = append(columns[d], info.Ref)
		maxDepth = max(maxDepth, d)
	}

	colWidth := float32(size.Width) / float32(maxDepth+1)
	centers := make(map[Ref][2]float32, len(infos))
	for d := 0; d <= maxDepth; d++ {
		refs := columns[d]
		rowHeight := float32(size.Height) / float32(len(refs)+1)
		for i, ref := range refs {
			centers[ref] = [2]float32{colWidth*float32(d) + colWidth/2, rowHeight * float32(i+1)}
		}
	}

	box := float32(math.Max(2, math.Min(float64(colWidth)/4, float64(size.Height)/float64(2*len(infos)+2))))
	stroke := float32(math.Max(1, float64(size.Width)/128))
	r := vector.NewRasterizer(size.Width, size.Height)
	for _, info := range infos {
		c := centers[info.Ref]
		if parent, ok := centers[info.Parent]; ok {
			strokeLine(r, parent[0], parent[1], c[0], c[1], stroke)
		}
		strokeLine(r, c[0]-box, c[1]-box, c[0]+box, c[1]-box, stroke)
		strokeLine(r, c[0]+box, c[1]-box, c[0]+box, c[1]+box, stroke)
		strokeLine(r, c[0]+box, c[1]+box, c[0]-box, c[1]+box, stroke)
		strokeLine(r, c[0]-box, c[1]+box, c[0]-box, c[1]-box, stroke)
	}
	r.Draw(img, img.Bounds(), image.NewUniform(colorWire), image.Point{})
	return img
}

// strokeLine adds a line of the given width to r as a filled quad.
func strokeLine(r *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	r.MoveTo(x0+nx, y0+ny)
	r.LineTo(x1+nx, y1+ny)
	r.LineTo(x1-nx, y1-ny)
	r.LineTo(x0-nx, y0-ny)
	r.ClosePath()
}

func fillRect(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// fitExact returns img scaled to fit inside size and letterboxed so the
// result is exactly size, whatever the source aspect ratio.
func fitExact(img image.Image, size Size) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		return imaging.Clone(img)
	}
	fitted := imaging.Fit(img, size.Width, size.Height, imaging.Lanczos)
	if fitted.Bounds().Dx() == size.Width && fitted.Bounds().Dy() == size.Height {
		return fitted
	}
	bg := imaging.New(size.Width, size.Height, colorLetterbox)
	return imaging.PasteCenter(bg, fitted)
}
