package office

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

// sofficeHandle converts documents with a local headless LibreOffice. LibreOffice can't run
// several conversions with the same user profile, so every handle has its own one.
type sofficeHandle struct {
	bin        string
	profileDir string
	opts       ExportOptions

	closed bool
}

func openSoffice(ctx context.Context, target Target, opts ExportOptions) (*sofficeHandle, error) {
	name := target.Path
	if name == "" {
		name = "soffice"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't find office binary %q: %w", ErrConnection, name, err)
	}

	stderr := bytes.NewBuffer(nil)
	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %q is not working: %w, stderr: %q", ErrConnection, bin, err, stderr.String())
	}

	profileDir := filepath.Join(os.TempDir(), "thumbnailer-soffice-"+uuid.NewString())
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: couldn't create profile dir: %w", ErrConnection, err)
	}

	return &sofficeHandle{
		bin:        bin,
		profileDir: profileDir,
		opts:       opts,
	}, nil
}

func (h *sofficeHandle) ConvertToPDF(ctx context.Context, path string) ([]byte, error) {
	if h.closed {
		return nil, fmt.Errorf("%w: session is closed", ErrConversion)
	}

	path, err := checkDocumentPath(path)
	if err != nil {
		return nil, err
	}

	// Use a fresh dir for every export, so previous results are never picked up.
	outDir, err := os.MkdirTemp("", "thumbnailer-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("couldn't create output dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			rlog.Errorf("couldn't remove output dir %q: %s", outDir, err)
		}
	}()

	filter, err := sofficeFilter(path, h.opts)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-env:UserInstallation=" + (&url.URL{Scheme: "file", Path: filepath.ToSlash(h.profileDir)}).String(),
		"--norestore",
		"--nologo",
	}
	if h.opts.Hidden {
		args = append(args, "--headless", "--invisible")
	}
	args = append(args, "--convert-to", filter, "--outdir", outDir, path)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: soffice failed: %w, stderr: %q", ErrConversion, err, stderr.String())
	}

	// soffice exits with 0 even if it couldn't load a document, so check the result.
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".pdf"
	pdf, err := os.ReadFile(filepath.Join(outDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: no pdf was exported, stdout: %q, stderr: %q", ErrConversion, stdout.String(), stderr.String())
	}
	return pdf, nil
}

// sofficeFilter returns the value for "--convert-to". The export filter depends on
// the document family.
func sofficeFilter(path string, opts ExportOptions) (string, error) {
	filter := "writer_pdf_Export"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ods", ".xls", ".xlsx", ".xlsm", ".xlt", ".xltx", ".xltm", ".xlw", ".csv", ".dif", ".pxl":
		filter = "calc_pdf_Export"
	case ".odp", ".ppt", ".pptx", ".pps", ".ppsx":
		filter = "impress_pdf_Export"
	case ".odg":
		filter = "draw_pdf_Export"
	}

	res := "pdf:" + filter
	if opts.PageRange != "" {
		filterData, err := json.Marshal(map[string]any{
			"PageRange": map[string]string{
				"type":  "string",
				"value": opts.PageRange,
			},
		})
		if err != nil {
			return "", fmt.Errorf("couldn't marshal filter data: %w", err)
		}
		res += ":" + string(filterData)
	}
	return res, nil
}

func (h *sofficeHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	return os.RemoveAll(h.profileDir)
}

// checkDocumentPath returns the absolute path of a regular file.
func checkDocumentPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a regular file", ErrPath, absPath)
	}
	return absPath, nil
}
