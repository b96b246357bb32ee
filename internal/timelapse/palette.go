package timelapse

import "sort"

// DefaultColormap is used for the legend when a colormap has no gradient.
const DefaultColormap = "magma"

var colormapGradients = map[string]string{
	"magma":   "linear-gradient(to right, #000004, #320a5e, #781b6c, #bb3654, #ec6824, #fbb41a, #fcffa4)",
	"viridis": "linear-gradient(to right, #440154, #31688e, #35b779, #fde725)",
	"plasma":  "linear-gradient(to right, #0d0887, #7e03a8, #cc4778, #f89441, #f0f921)",
	"turbo":   "linear-gradient(to right, #23171b, #271a28, #2d1e3e, #34285a, #3e3574, #4c448a, #5c549d, #6d65ad, #7f76ba, #9287c4, #a598cc, #b9a9d1, #cdbad4, #e1ccd4, #f4ddd1, #ffeecb)",
	"hot":     "linear-gradient(to right, #000000, #ff0000, #ffff00, #ffffff)",
	"cool":    "linear-gradient(to right, #00ffff, #ff00ff)",
}

// KnownColormap reports whether name has a legend gradient.
func KnownColormap(name string) bool {
	_, ok := colormapGradients[name]
	return ok
}

// Colormaps lists the known colormap names, sorted.
func Colormaps() []string {
	out := make([]string, 0, len(colormapGradients))
	for name := range colormapGradients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// gradientFor returns the CSS gradient for name, falling back to magma.
func gradientFor(name string) string {
	if g, ok := colormapGradients[name]; ok {
		return g
	}
	return colormapGradients[DefaultColormap]
}
