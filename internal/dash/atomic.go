package dash

import "os"

// writeFileAtomic writes data to a temp file beside path then renames
// it into place, the same atomic-publish discipline internal/hls uses
// for its playlist — here applied to the MPD and to the init and media
// segments.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
