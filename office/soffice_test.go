package office

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSoffice emulates "soffice --convert-to": it writes all its arguments to the output pdf.
const fakeSoffice = `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "LibreOffice 7.6.4.1"
	exit 0
fi

args="$*"
outdir=""
input=""
while [ $# -gt 0 ]; do
	case "$1" in
	--outdir) outdir="$2"; shift ;;
	-*) ;;
	*) input="$1" ;;
	esac
	shift
done

name=$(basename "$input")
name="${name%.*}"
case "$name" in
broken*)
	echo "Error: source file could not be loaded" >&2
	exit 0
	;;
esac

printf '%%PDF-1.4 %s' "$args" > "$outdir/$name.pdf"
`

func TestSofficeHandle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake soffice is a shell script")
	}

	r := require.New(t)
	ctx := context.Background()

	dir := t.TempDir()
	bin := filepath.Join(dir, "soffice")
	r.NoError(os.WriteFile(bin, []byte(fakeSoffice), 0o700)) //nolint:gosec

	for _, name := range []string{"table.xlsx", "report.odt", "broken.doc"} {
		r.NoError(os.WriteFile(filepath.Join(dir, name), []byte("content"), 0o600))
	}

	target, err := ParseTarget("soffice:" + bin)
	r.NoError(err)

	handle, err := NewOpener(DefaultExportOptions()).Open(ctx, target)
	r.NoError(err)
	h := handle.(*sofficeHandle)
	r.DirExists(h.profileDir)

	t.Run("convert", func(t *testing.T) {
		r := require.New(t)

		pdf, err := h.ConvertToPDF(ctx, filepath.Join(dir, "table.xlsx"))
		r.NoError(err)
		r.Contains(string(pdf), "%PDF-1.4")
		r.Contains(string(pdf), "-env:UserInstallation=file://"+h.profileDir)
		r.Contains(string(pdf), "--headless --invisible")
		r.Contains(string(pdf), `--convert-to pdf:calc_pdf_Export:{"PageRange":{"type":"string","value":"1"}}`)

		pdf, err = h.ConvertToPDF(ctx, filepath.Join(dir, "report.odt"))
		r.NoError(err)
		r.Contains(string(pdf), "pdf:writer_pdf_Export")
	})

	t.Run("conversion error", func(t *testing.T) {
		r := require.New(t)

		_, err := h.ConvertToPDF(ctx, filepath.Join(dir, "broken.doc"))
		r.ErrorIs(err, ErrConversion)
		r.Contains(err.Error(), "source file could not be loaded")
	})

	t.Run("path error", func(t *testing.T) {
		r := require.New(t)

		_, err := h.ConvertToPDF(ctx, filepath.Join(dir, "missing.odt"))
		r.ErrorIs(err, ErrPath)
	})

	r.NoError(h.Close())
	r.NoError(h.Close())
	r.NoDirExists(h.profileDir)

	_, err = h.ConvertToPDF(ctx, filepath.Join(dir, "report.odt"))
	r.ErrorIs(err, ErrConversion)
}

func TestSofficeHandle_NotInstalled(t *testing.T) {
	target := Target{Protocol: ProtocolSoffice, Path: filepath.Join(t.TempDir(), "soffice")}

	_, err := NewOpener(DefaultExportOptions()).Open(context.Background(), target)
	require.ErrorIs(t, err, ErrConnection)
}

func TestSofficeFilter(t *testing.T) {
	for path, want := range map[string]string{
		"a.docx": "pdf:writer_pdf_Export",
		"a.ODS":  "pdf:calc_pdf_Export",
		"a.csv":  "pdf:calc_pdf_Export",
		"a.pptx": "pdf:impress_pdf_Export",
		"a.odg":  "pdf:draw_pdf_Export",
		"a.rtf":  "pdf:writer_pdf_Export",
	} {
		got, err := sofficeFilter(path, ExportOptions{})
		require.NoError(t, err)
		require.Equal(t, want, got, path)
	}

	got, err := sofficeFilter("a.odt", ExportOptions{PageRange: "1-2"})
	require.NoError(t, err)
	require.Equal(t, `pdf:writer_pdf_Export:{"PageRange":{"type":"string","value":"1-2"}}`, got)
}
