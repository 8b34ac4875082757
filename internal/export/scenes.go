package export

import (
	"fmt"
	"os"
	"path/filepath"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
}

// WriteScenes writes each scene's image into dir as
// <base>_scene_<NN>_<label>.<ext> and returns the paths written.
func WriteScenes(dir, base string, scenes []Scene) ([]string, error) {
	base = SanitizeName(base, 80)
	if base == "" {
		base = "video"
	}

	paths := make([]string, 0, len(scenes))
	for _, s := range scenes {
		ext, ok := extensions[s.MIMEType]
		if !ok {
			ext = ".jpg"
		}
		name := fmt.Sprintf("%s_scene_%02d_%s%s", base, s.Index, SanitizeName(s.Label, 20), ext)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, s.ImageData, 0644); err != nil {
			return paths, fmt.Errorf("write scene %d: %w", s.Index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
