package config

// DefaultCommand renders an ImageMagick resize that fits inside the target
// box without enlarging smaller inputs.
var DefaultCommand = []string{
	"magick", "{{.Input}}",
	"-resize", "{{.Width}}x{{.Height}}>",
	"-quality", "{{.Quality}}",
	"{{.Output}}",
}

// Defaults returns the document every loaded file is merged onto.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"slideshowInterval": 5000,
		"imagePath":         "images",
		"imageExtensions":   []interface{}{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		"randomOrder":       false,
		"reshuffleInterval": 0,
		"port":              3000,
		"staticPath":        "public",
		"stateDir":          ".",
		"ignorePatterns":    []interface{}{".*"},
		"watch": map[string]interface{}{
			"usePolling": false,
			"interval":   1000,
		},
		"preprocessing": map[string]interface{}{
			"rawImagePath":       "raw",
			"processedImagePath": "images",
			"quality":            80,
			"targetWidth":        1920,
			"targetHeight":       1080,
			"inputExtensions":    []interface{}{".jpg", ".jpeg", ".png", ".gif", ".webp", ".tiff", ".heic"},
			"enabled":            true,
			"keepOriginals":      false,
			"archivePath":        "",
			"workers":            2,
			"command":            toInterfaces(DefaultCommand),
		},
		"https": map[string]interface{}{
			"enabled": false,
			"cert":    "",
			"key":     "",
		},
		"admin": map[string]interface{}{
			"allowedIPs": []interface{}{},
		},
	}
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
