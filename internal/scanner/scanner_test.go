package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gradenerd/internal/extract"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func relPaths(b *Bundle) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range b.Items {
		if !seen[it.RelPath] {
			seen[it.RelPath] = true
			out = append(out, it.RelPath)
		}
	}
	return out
}

func TestScan_OrderIsLexicographic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"zeta.py":     "z = 1\n",
		"alpha.py":    "a = 1\n",
		"mid/beta.py": "b = 1\n",
	})

	s := New(zap.NewNop(), 4)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)
	require.Empty(t, bundle.Errors)

	assert.Equal(t, []string{"alpha.py", "mid/beta.py", "zeta.py"}, relPaths(bundle))
	for i, it := range bundle.Items {
		assert.Equal(t, i, it.Ordinal)
	}
}

func TestScan_DeterministicAcrossRuns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py": "a\n", "b.py": "b\n", "c.py": "c\n",
		"d/e.py": "e\n", "d/f.py": "f\n",
	})

	s := New(zap.NewNop(), 8)
	first, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Items, second.Items)
}

func TestScan_IgnorePrecedence(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.py":          "k\n",
		"analysis.ipynb":   `{"cells":[{"cell_type":"code","source":"x = 1","outputs":[]}]}`,
		"scratch.ipynb":    `{"cells":[{"cell_type":"code","source":"y = 2","outputs":[]}]}`,
		".gitignore":       "!analysis.ipynb\n",
		".graderignore":    "scratch.ipynb\n",
		"build/output.txt": "junk\n",
	})

	s := New(zap.NewNop(), 2)
	// CLI excludes all notebooks and build output; .gitignore re-includes
	// analysis.ipynb; .graderignore independently drops scratch.ipynb.
	bundle, err := s.Scan(context.Background(), root, []string{"*.ipynb", "build/"})
	require.NoError(t, err)

	assert.Equal(t, []string{"analysis.ipynb", "keep.py"}, relPaths(bundle))
}

func TestScan_PrunedDirNotResurrected(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/main.py":       "m\n",
		"vendor/lib.py":     "l\n",
		"vendor/deep/ok.py": "o\n",
		".graderignore":     "vendor/\n!vendor/deep/ok.py\n",
	})

	s := New(zap.NewNop(), 2)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)

	// The walk prunes vendor/ before its children are visited, so the
	// negation inside never takes effect.
	assert.Equal(t, []string{"src/main.py"}, relPaths(bundle))
}

func TestScan_ExpandsArchivesBeforeWalk(t *testing.T) {
	root := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("packed.py")
	require.NoError(t, err)
	_, err = f.Write([]byte("p = 1\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "work.zip"), buf.Bytes(), 0o644))

	s := New(zap.NewNop(), 2)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"packed.py"}, relPaths(bundle))
	assert.NoFileExists(t, filepath.Join(root, "work.zip"))
}

func TestScan_ExtractionFailureIsNonFatal(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"good.py":    "ok\n",
		"report.pdf": "%PDF-1.4",
	})

	s := New(zap.NewNop(), 2)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good.py"}, relPaths(bundle))
	require.Len(t, bundle.Errors, 1)
	assert.Contains(t, bundle.Errors[0], "report.pdf")
}

func TestScan_EmptyTreeIsValid(t *testing.T) {
	root := t.TempDir()

	s := New(zap.NewNop(), 2)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Empty(t, bundle.Items)
	assert.Empty(t, bundle.Errors)
	assert.Equal(t, filepath.Base(root), bundle.Submission)
}

func TestScan_UnregisteredExtensionsSkippedSilently(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"code.py":   "c\n",
		"tool.exe":  "binary",
		"data.blob": "binary",
	})

	s := New(zap.NewNop(), 2)
	bundle, err := s.Scan(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"code.py"}, relPaths(bundle))
	assert.Empty(t, bundle.Errors)
}

func TestScan_Cancellation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "a\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(zap.NewNop(), 2)
	_, err := s.Scan(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundle_TextContext(t *testing.T) {
	b := &Bundle{Items: []Item{
		{RelPath: "a.py", Part: extract.Part{Kind: extract.KindText, Text: "first"}},
		{RelPath: "img.png", Part: extract.Part{Kind: extract.KindImage, Data: []byte{1}}},
		{RelPath: "b.py", Part: extract.Part{Kind: extract.KindText, Text: "second"}},
	}}
	assert.Equal(t, "first\n\nsecond", b.TextContext())
}
