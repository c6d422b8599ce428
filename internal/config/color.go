package config

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ParseColor parses an annotation color. Accepted forms are "#rrggbb",
// "rrggbb", "rgb(r, g, b)" with 0-255 components, and SVG 1.1 color names
// such as "red" or "orange".
func ParseColor(s string) (color.RGBA, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[v]; ok {
		return c, nil
	}
	if strings.HasPrefix(v, "rgb(") && strings.HasSuffix(v, ")") {
		return parseRGB(s, v[len("rgb("):len(v)-1])
	}

	v = strings.TrimPrefix(v, "#")
	if len(v) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

func parseRGB(orig, args string) (color.RGBA, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 3 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: rgb() takes 3 components", orig)
	}
	var c [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q: %w", orig, err)
		}
		c[i] = uint8(n)
	}
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: 0xff}, nil
}
