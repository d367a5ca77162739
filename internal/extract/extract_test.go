package extract

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestFile_PlainText(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "solution.py", []byte("print('ok')\n"))

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 1)
	assert.Equal(t, KindText, parts[0].Kind)
	assert.Equal(t, "print('ok')\n", parts[0].Text)
}

func TestFile_TextWithBOM(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "readme.md", append([]byte{0xEF, 0xBB, 0xBF}, []byte("# hi")...))

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 1)
	assert.Equal(t, "# hi", parts[0].Text)
}

func TestFile_Windows1252Fallback(t *testing.T) {
	dir := t.TempDir()
	// 0xE9 is é in Windows-1252 and invalid as a lone UTF-8 byte.
	p := writeFile(t, dir, "notes.txt", []byte{'c', 'a', 'f', 0xE9})

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 1)
	assert.Equal(t, "café", parts[0].Text)
}

func TestFile_Windows1252SmartQuotes(t *testing.T) {
	dir := t.TempDir()
	// 0x93/0x94 are curly quotes in Windows-1252, C1 controls in Latin-1.
	p := writeFile(t, dir, "essay.txt", []byte{0x93, 'h', 'i', 0x94})

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 1)
	assert.Equal(t, "“hi”", parts[0].Text)
}

func TestFile_EmptyTextSkipped(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "empty.txt", []byte("  \n\t\n"))

	parts, xerr := File(p)
	assert.Nil(t, xerr)
	assert.Empty(t, parts)
}

func TestFile_Image(t *testing.T) {
	dir := t.TempDir()
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	p := writeFile(t, dir, "diagram.png", png)

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 1)
	assert.Equal(t, KindImage, parts[0].Kind)
	assert.Equal(t, "image/png", parts[0].MIME)
	assert.Equal(t, png, parts[0].Data)
}

func TestFile_BinaryDocReportsUnsupported(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "report.pdf", []byte("%PDF-1.4"))

	parts, xerr := File(p)
	assert.Empty(t, parts)
	require.NotNil(t, xerr)
	assert.Equal(t, ErrUnsupported, xerr.Kind)
}

func TestFile_MissingFileIsIOError(t *testing.T) {
	_, xerr := File(filepath.Join(t.TempDir(), "gone.txt"))
	require.NotNil(t, xerr)
	assert.Equal(t, ErrIO, xerr.Kind)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(".py"))
	assert.True(t, Supported(".PNG"))
	assert.True(t, Supported(".ipynb"))
	assert.True(t, Supported(".pdf"))
	assert.False(t, Supported(".exe"))
	assert.False(t, Supported(""))
}

func TestNotebook_CodeCellsAndImages(t *testing.T) {
	imgData := []byte{0x89, 'P', 'N', 'G'}
	nb := fmt.Sprintf(`{
	  "cells": [
	    {"cell_type": "markdown", "source": "# Title"},
	    {"cell_type": "code", "source": ["import math\n", "x = 1\n"], "outputs": []},
	    {"cell_type": "code", "source": "print(x)", "outputs": [
	      {"output_type": "display_data", "data": {"image/png": %q}},
	      {"output_type": "stream", "data": {"text/plain": "1"}}
	    ]},
	    {"cell_type": "code", "source": "   ", "outputs": []}
	  ]
	}`, base64.StdEncoding.EncodeToString(imgData))

	dir := t.TempDir()
	p := writeFile(t, dir, "analysis.ipynb", []byte(nb))

	parts, xerr := File(p)
	require.Nil(t, xerr)
	require.Len(t, parts, 2)

	assert.Equal(t, KindText, parts[0].Kind)
	assert.Equal(t, "import math\nx = 1\n\nprint(x)", parts[0].Text)

	assert.Equal(t, KindImage, parts[1].Kind)
	assert.Equal(t, "image/png", parts[1].MIME)
	assert.Equal(t, imgData, parts[1].Data)
}

func TestNotebook_InvalidJSONIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "broken.ipynb", []byte("{not json"))

	_, xerr := File(p)
	require.NotNil(t, xerr)
	assert.Equal(t, ErrCorrupt, xerr.Kind)
}
