package station

import (
	"os"
	"path/filepath"

	"github.com/dhowden/tag"
)

// songName resolves the display name for a playlist entry: an embedded
// ID3/Vorbis/MP4 title tag if one can be read, otherwise the file's base
// name.
func songName(path string) string {
	base := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return base
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil || m.Title() == "" {
		return base
	}
	return m.Title()
}
