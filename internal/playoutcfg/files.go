package playoutcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/edirooss/playout-server/internal/domain/channel"
)

// DefaultRootNames are the directory names treated as a shared root that
// per-channel directories nest under.
var DefaultRootNames = []string{"ffplayout"}

// Reroot returns the per-channel directory "channel-<suffix>" for a reference path.
// When the last segment of ref is one of rootNames the directory is created inside
// ref, otherwise next to it:
//
//	/var/log/ffplayout, "7" -> /var/log/ffplayout/channel-7
//	/var/log/custom,    "7" -> /var/log/channel-7
func Reroot(ref, suffix string, rootNames []string) string {
	ref = filepath.Clean(ref)
	name := "channel-" + suffix
	if slices.Contains(rootNames, filepath.Base(ref)) {
		return filepath.Join(ref, name)
	}
	return filepath.Join(filepath.Dir(ref), name)
}

// RootNames selects the shared-root names per re-rooted path.
type RootNames struct {
	Log      []string
	Playlist []string
}

func (r *RootNames) setDefaults() {
	if len(r.Log) == 0 {
		r.Log = DefaultRootNames
	}
	if len(r.Playlist) == 0 {
		r.Playlist = DefaultRootNames
	}
}

// Derived is a channel configuration derived from a reference one.
type Derived struct {
	Doc          *Document
	LogPath      string
	PlaylistPath string
}

// Derive copies reference and points logging.log_path and playlist.path at the
// per-channel directories for suffix. reference is not modified.
func Derive(reference *Document, suffix string, roots RootNames) (Derived, error) {
	roots.setDefaults()

	logRef, ok := reference.LogPath()
	if !ok || logRef == "" {
		return Derived{}, fmt.Errorf("%w: reference has no %s.%s", channel.ErrParse, SectionLogging, KeyLogPath)
	}
	plsRef, ok := reference.PlaylistPath()
	if !ok || plsRef == "" {
		return Derived{}, fmt.Errorf("%w: reference has no %s.%s", channel.ErrParse, SectionPlaylist, KeyPlaylistPath)
	}

	out := Derived{
		Doc:          reference.Clone(),
		LogPath:      Reroot(logRef, suffix, roots.Log),
		PlaylistPath: Reroot(plsRef, suffix, roots.Playlist),
	}
	if err := out.Doc.Set(SectionLogging, KeyLogPath, out.LogPath); err != nil {
		return Derived{}, err
	}
	if err := out.Doc.Set(SectionPlaylist, KeyPlaylistPath, out.PlaylistPath); err != nil {
		return Derived{}, err
	}
	return out, nil
}

// EnsureDir creates dir (and parents) unless it already is a directory.
// A non-directory occupying the path is ErrPathConflict.
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s exists and is not a directory", channel.ErrPathConflict, dir)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %w", channel.ErrPathConflict, err)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: stat %s: %w", channel.ErrWrite, dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		// a parent segment may be a regular file
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTDIR) {
			return fmt.Errorf("%w: %w", channel.ErrPathConflict, err)
		}
		return fmt.Errorf("%w: %w", channel.ErrWrite, err)
	}
	return nil
}

// FileExists reports whether a regular file exists at path.
func FileExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", channel.ErrPathConflict, path)
	}
	return true, nil
}

// CopyFile copies src to dst byte for byte.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", channel.ErrTemplateMissing, src)
		}
		return fmt.Errorf("read %s: %w", src, err)
	}
	return writeFileAtomic(dst, data)
}

// writeFileAtomic replaces path through a temp file in the same directory;
// path is either absent or complete, never truncated.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", channel.ErrWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("%w: write %s: %w", channel.ErrWrite, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: sync %s: %w", channel.ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %w", channel.ErrWrite, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: chmod %s: %w", channel.ErrWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %w", channel.ErrWrite, path, err)
	}
	return nil
}
