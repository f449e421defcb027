package playoutcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const referenceYAML = `# ffplayout engine config
general:
    stop_threshold: 11
    stat_file: .ffp_status
logging:
    log_to_file: true
    backup_count: 7
    log_path: /var/log/ffplayout # shared root
    log_level: DEBUG
processing:
    width: 1024
    height: 576
    aspect: 1.778
    logo: /usr/share/ffplayout/logo.png
playlist:
    path: /data/playlists
    day_start: "05:59:25"
    length: "24:00:00"
    infinit: false
out:
    mode: stream
    output_param: >-
        -c:v libx264 -crf 23
        -f flv rtmp://localhost/live/stream
`

func decodeAny(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func TestParseAndGet(t *testing.T) {
	doc, err := Parse([]byte(referenceYAML))
	require.NoError(t, err)

	lp, ok := doc.LogPath()
	require.True(t, ok)
	require.Equal(t, "/var/log/ffplayout", lp)

	pp, ok := doc.PlaylistPath()
	require.True(t, ok)
	require.Equal(t, "/data/playlists", pp)

	require.Equal(t, []string{"general", "logging", "processing", "playlist", "out"}, doc.Sections())

	_, ok = doc.Get("logging", "missing")
	require.False(t, ok)
	_, ok = doc.Get("missing", "path")
	require.False(t, ok)
}

func TestParseRejectsNonMapping(t *testing.T) {
	for _, in := range []string{"", "- a\n- b\n", "just a string\n", "a: [\n"} {
		_, err := Parse([]byte(in))
		require.ErrorIs(t, err, channel.ErrParse, "input %q", in)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(referenceYAML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ffplayout-001.yml")
	require.NoError(t, doc.Save(path))

	back, err := Load(path)
	require.NoError(t, err)

	a, err := doc.Marshal()
	require.NoError(t, err)
	b, err := back.Marshal()
	require.NoError(t, err)

	require.Equal(t, decodeAny(t, []byte(referenceYAML)), decodeAny(t, b))
	require.Equal(t, decodeAny(t, a), decodeAny(t, b))
	require.Equal(t, doc.Sections(), back.Sections())

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSetKeepsOtherContent(t *testing.T) {
	doc, err := Parse([]byte(referenceYAML))
	require.NoError(t, err)

	require.NoError(t, doc.Set(SectionPlaylist, KeyPlaylistPath, "/data/channel-7"))
	require.NoError(t, doc.Set("storage", "path", "/media"))
	require.NoError(t, doc.Set(SectionPlaylist, "length", "12"))

	data, err := doc.Marshal()
	require.NoError(t, err)
	got := decodeAny(t, data)
	want := decodeAny(t, []byte(referenceYAML))

	require.Equal(t, want["general"], got["general"])
	require.Equal(t, want["processing"], got["processing"])
	require.Equal(t, want["out"], got["out"])

	pls := got["playlist"].(map[string]any)
	require.Equal(t, "/data/channel-7", pls["path"])
	require.Equal(t, "12", pls["length"]) // stays a string
	require.Equal(t, "05:59:25", pls["day_start"])
	require.Equal(t, map[string]any{"path": "/media"}, got["storage"])

	require.Equal(t, []string{"general", "logging", "processing", "playlist", "out", "storage"}, doc.Sections())

	// scalar section cannot take keys
	bad, err := Parse([]byte("flat: 1\n"))
	require.NoError(t, err)
	require.ErrorIs(t, bad.Set("flat", "k", "v"), channel.ErrParse)
}

func TestSetPreservesLineComment(t *testing.T) {
	doc, err := Parse([]byte(referenceYAML))
	require.NoError(t, err)
	require.NoError(t, doc.Set(SectionLogging, KeyLogPath, "/var/log/ffplayout/channel-2"))

	data, err := doc.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(data), "log_path: /var/log/ffplayout/channel-2 # shared root")
	require.Contains(t, string(data), "# ffplayout engine config")
}

func TestCloneIsIndependent(t *testing.T) {
	doc, err := Parse([]byte(referenceYAML))
	require.NoError(t, err)

	c := doc.Clone()
	require.NoError(t, c.Set(SectionLogging, KeyLogPath, "/elsewhere"))

	lp, _ := doc.LogPath()
	require.Equal(t, "/var/log/ffplayout", lp)
	lp, _ = c.LogPath()
	require.Equal(t, "/elsewhere", lp)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.ErrorIs(t, err, channel.ErrTemplateMissing)
}
