package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShoshinNikita/thumbnailer/office"
	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
	"github.com/ShoshinNikita/thumbnailer/thumb"
	"github.com/ShoshinNikita/thumbnailer/thumbnails"
)

const maxUploadSize = 100 << 20 // 100 MiB

type ThumbnailService interface {
	thumb.ThumbnailService

	Stat(path string) (thumb.FileID, error)
}

type OfficePool interface {
	Stats() []office.TargetStats
}

type Server struct {
	buildInfo   thumb.BuildInfo
	defaultSize thumb.Size

	httpServer *http.Server

	thumbnailService ThumbnailService
	thumbnailer      thumb.Thumbnailer
	officePool       OfficePool

	// uploadsSem limits the number of uploaded files processed at the same time.
	uploadsSem chan struct{}
}

func NewServer(cfg thumb.Config, thumbnailService ThumbnailService, thumbnailer thumb.Thumbnailer, officePool OfficePool) (s *Server) {
	s = &Server{
		buildInfo:   cfg.BuildInfo,
		defaultSize: cfg.ThumbnailSize,
		//
		thumbnailService: thumbnailService,
		thumbnailer:      thumbnailer,
		officePool:       officePool,
		//
		uploadsSem: make(chan struct{}, max(cfg.WorkersCount, 1)),
	}

	mux := http.NewServeMux()

	// API
	mux.HandleFunc("GET /api/thumbnail/", s.handleThumbnail)
	mux.HandleFunc("POST /api/thumbnail", s.handleUpload)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	// Debug
	mux.Handle("GET /debug/metrics", promhttp.Handler())
	mux.HandleFunc("GET /debug/office-pool", s.handleOfficePool)

	handler := loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	rlog.Infof("start web server on %q", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleThumbnail returns the thumbnail of a file under the served directory.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/thumbnail")
	if path == "" || path == "/" {
		writeBadRequestError(w, "filepath can't be empty")
		return
	}
	size, err := s.sizeFromRequest(r)
	if err != nil {
		writeBadRequestError(w, "invalid size: %s", err)
		return
	}

	if !s.thumbnailService.CanCreate(path) {
		writeBadRequestError(w, "%s: %q", thumb.ErrUnsupportedFormat, filepath.Ext(path))
		return
	}

	fileID, err := s.thumbnailService.Stat(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusNotFound, "file %q not found", path)
		case errors.Is(err, thumbnails.ErrNotFile):
			writeBadRequestError(w, "%s", err)
		default:
			writeBadRequestError(w, "couldn't get file info: %s", err)
		}
		return
	}

	rc, err := s.thumbnailService.OpenThumbnail(r.Context(), fileID, size)
	if err != nil {
		switch {
		case errors.Is(err, thumbnails.ErrQueueFull), errors.Is(err, thumbnails.ErrServiceStopped):
			writeError(w, http.StatusServiceUnavailable, "couldn't open thumbnail: %s", err)
		case errors.Is(err, office.ErrPath):
			writeBadRequestError(w, "couldn't open thumbnail: %s", err)
		default:
			writeInternalServerError(w, "couldn't open thumbnail: %s", err)
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/png")
	// Mod time and size identify the file version.
	etag := strconv.FormatInt(fileID.GetModTime().Unix(), 10) + "-" + strconv.FormatInt(fileID.GetSize(), 10)
	setCacheHeaders(w, 30*24*time.Hour, etag)

	copyResponse(w, rc)
}

// handleUpload returns the thumbnail of the file from the multipart field "file".
// Uploaded files are not cached.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	size, err := s.sizeFromRequest(r)
	if err != nil {
		writeBadRequestError(w, "invalid size: %s", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequestError(w, "couldn't read file from form: %s", err)
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	if !s.thumbnailer.CanCreate(header.Filename) {
		writeBadRequestError(w, "%s: %q", thumb.ErrUnsupportedFormat, filepath.Ext(header.Filename))
		return
	}

	select {
	case s.uploadsSem <- struct{}{}:
		defer func() { <-s.uploadsSem }()
	case <-r.Context().Done():
		return
	}

	// Office suites detect the format by the extension, so keep it.
	tempPath := filepath.Join(os.TempDir(), "thumbnailer-upload-"+uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveFile(tempPath, file); err != nil {
		writeInternalServerError(w, "couldn't save uploaded file: %s", err)
		return
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil {
			rlog.Errorf("couldn't remove uploaded file: %s", err)
		}
	}()

	data, err := s.thumbnailer.Create(r.Context(), tempPath, header.Filename, size)
	if err != nil {
		writeInternalServerError(w, "couldn't create thumbnail: %s", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, VersionResponse{
		GitHash:    s.buildInfo.ShortGitHash,
		CommitTime: s.buildInfo.CommitTime,
	})
}

func (s *Server) handleOfficePool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, OfficePoolResponse{
		Targets: s.officePool.Stats(),
	})
}

// sizeFromRequest parses query params "w" and "h". Missing values are taken
// from the default size.
func (s *Server) sizeFromRequest(r *http.Request) (thumb.Size, error) {
	size := s.defaultSize
	for param, p := range map[string]*int{
		"w": &size.Width,
		"h": &size.Height,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return thumb.Size{}, fmt.Errorf("invalid %q: %w", param, err)
		}
		*p = v
	}
	if err := size.Validate(); err != nil {
		return thumb.Size{}, err
	}
	return size, nil
}

func saveFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rlog.Errorf("couldn't encode response: %s", err)
	}
}

func copyResponse(w http.ResponseWriter, src io.Reader) {
	_, err := io.Copy(w, src)
	if err != nil {
		writeInternalServerError(w, "couldn't write response: %s", err)
	}
}

func writeBadRequestError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusBadRequest, format, a...)
}

func writeInternalServerError(w http.ResponseWriter, format string, a ...any) {
	rlog.Errorf(format, a...)

	writeError(w, http.StatusInternalServerError, format, a...)
}

func writeError(w http.ResponseWriter, code int, format string, a ...any) {
	http.Error(w, fmt.Sprintf(format, a...), code)
}
