package vision

import (
	"fmt"
	"math"
)

// Color bucket names.
const (
	ColorBlack  = "black"
	ColorWhite  = "white"
	ColorGray   = "gray"
	ColorRed    = "red"
	ColorOrange = "orange"
	ColorYellow = "yellow"
	ColorGreen  = "green"
	ColorBlue   = "blue"
	ColorPurple = "purple"
	ColorPink   = "pink"
	ColorBrown  = "brown"
	ColorBeige  = "beige"
	ColorNavy   = "navy"
	ColorTeal   = "teal"
)

// Hex renders an RGB triple as #rrggbb.
func Hex(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// hsl converts 0..255 RGB to hue in degrees and saturation/lightness in 0..1.
func hsl(r, g, b uint8) (h, s, l float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	l = (maxC + minC) / 2
	d := maxC - minC
	if d == 0 {
		return 0, 0, l
	}
	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}
	switch maxC {
	case rf:
		h = (gf - bf) / d
		if gf < bf {
			h += 6
		}
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	return h * 60, s, l
}

// ColorName maps an RGB triple to one of the named buckets. Rules are
// evaluated in order; the first match wins.
func ColorName(r, g, b uint8) string {
	h, s, l := hsl(r, g, b)
	switch {
	case l < 0.12:
		return ColorBlack
	case l > 0.92:
		return ColorWhite
	case s < 0.12:
		return ColorGray
	case h >= 30 && h <= 65 && l >= 0.75 && s <= 0.7:
		return ColorBeige
	case h >= 10 && h <= 45 && l < 0.45 && s > 0.15:
		return ColorBrown
	case h < 15 || h >= 345:
		if l > 0.75 {
			return ColorPink
		}
		return ColorRed
	case h < 40:
		return ColorOrange
	case h < 70:
		return ColorYellow
	case h < 165:
		return ColorGreen
	case h < 195:
		return ColorTeal
	case h < 255:
		if l < 0.3 {
			return ColorNavy
		}
		return ColorBlue
	case h < 320:
		return ColorPurple
	default:
		return ColorPink
	}
}

// clamp8 rounds and clamps a float channel value to 0..255.
func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
