package office

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// gotenbergHandle converts documents with a Gotenberg-compatible service. Every handle
// has its own transport with a single connection.
type gotenbergHandle struct {
	baseURL   string
	client    *http.Client
	transport *http.Transport
	opts      ExportOptions

	closed bool
}

var _ Pinger = (*gotenbergHandle)(nil)

func openGotenberg(ctx context.Context, target Target, opts ExportOptions) (*gotenbergHandle, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	h := &gotenbergHandle{
		baseURL:   string(target.Protocol) + "://" + target.Address(),
		client:    &http.Client{Transport: transport},
		transport: transport,
		opts:      opts,
	}
	if err := h.Ping(ctx); err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return h, nil
}

// Ping checks the "/health" endpoint.
func (h *gotenbergHandle) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("couldn't prepare request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: unexpected status code %d", resp.StatusCode)
	}
	return nil
}

func (h *gotenbergHandle) ConvertToPDF(ctx context.Context, path string) ([]byte, error) {
	if h.closed {
		return nil, fmt.Errorf("%w: session is closed", ErrConversion)
	}

	path, err := checkDocumentPath(path)
	if err != nil {
		return nil, err
	}

	body, contentType, err := h.prepareForm(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/forms/libreoffice/convert", body)
	if err != nil {
		return nil, fmt.Errorf("couldn't prepare request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrConversion, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("%w: unexpected status code %d: %q", ErrConversion, resp.StatusCode, msg)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't read response: %w", ErrConversion, err)
	}
	return pdf, nil
}

func (h *gotenbergHandle) prepareForm(path string) (body *bytes.Buffer, contentType string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrPath, err)
	}
	defer f.Close()

	body = bytes.NewBuffer(nil)
	w := multipart.NewWriter(body)

	fw, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("couldn't create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", fmt.Errorf("couldn't copy document: %w", err)
	}
	if h.opts.PageRange != "" {
		if err := w.WriteField("nativePageRanges", h.opts.PageRange); err != nil {
			return nil, "", fmt.Errorf("couldn't write page ranges: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("couldn't close form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func (h *gotenbergHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	h.transport.CloseIdleConnections()
	return nil
}
