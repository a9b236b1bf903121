package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/unalkalkan/epub2md-web/internal/archive"
	"github.com/unalkalkan/epub2md-web/internal/convert"
	"github.com/unalkalkan/epub2md-web/internal/storage"
	"github.com/unalkalkan/epub2md-web/internal/util"
	"github.com/unalkalkan/epub2md-web/internal/workspace"
	"github.com/unalkalkan/epub2md-web/pkg/types"
)

// uploadFields are the multipart field names accepted for the uploaded file.
var uploadFields = []string{"file", "epub", "zip"}

// ConversionHandler handles upload, conversion and download endpoints
type ConversionHandler struct {
	ws        *workspace.Workspace
	orch      *convert.Orchestrator
	assembler *archive.Assembler
	artifacts storage.Adapter
	maxUpload int64
	logger    *slog.Logger
}

// NewConversionHandler creates a new conversion handler
func NewConversionHandler(ws *workspace.Workspace, orch *convert.Orchestrator, assembler *archive.Assembler, artifacts storage.Adapter, maxUploadBytes int64, logger *slog.Logger) *ConversionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &ConversionHandler{
		ws:        ws,
		orch:      orch,
		assembler: assembler,
		artifacts: artifacts,
		maxUpload: maxUploadBytes,
		logger:    logger.With("component", "api"),
	}
}

type uploadResponse struct {
	Success bool `json:"success"`
	types.StoredUpload
}

// Upload handles POST /upload
func (h *ConversionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, fmt.Sprintf("File exceeds %d MB", h.maxUpload>>20), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r)
	if err != nil {
		respondError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	stored, err := h.ws.StoreUpload(header.Filename, file)
	if err != nil {
		respondFailure(w, "Upload failed", err)
		return
	}

	respondJSON(w, uploadResponse{Success: true, StoredUpload: stored}, http.StatusOK)
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range uploadFields {
		if file, header, err := r.FormFile(field); err == nil {
			return file, header, nil
		}
	}
	return nil, nil, http.ErrMissingFile
}

type convertRequest struct {
	Filename string                  `json:"filename"`
	Options  types.ConversionOptions `json:"options"`
}

type convertResponse struct {
	Success        bool                 `json:"success"`
	Message        string               `json:"message"`
	OutputDir      string               `json:"outputDir"`
	Files          []string             `json:"files"`
	CoverExtracted bool                 `json:"coverExtracted"`
	Location       types.LocationSource `json:"location"`
	Degraded       bool                 `json:"degraded"`
	CustomFilename *string              `json:"customFilename"`
	Merge          bool                 `json:"merge"`
}

// Convert handles POST /convert
func (h *ConversionHandler) Convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		respondError(w, "Filename required", http.StatusBadRequest)
		return
	}

	source, err := h.ws.UploadPath(req.Filename)
	if err != nil {
		respondFailure(w, "Upload not found", err)
		return
	}

	result, err := h.orch.Convert(r.Context(), types.ConversionRequest{
		SourcePath: source,
		Mode:       types.ModeForward,
		Options:    req.Options,
	})
	if err != nil {
		respondFailure(w, "Conversion failed", err)
		return
	}

	resp := convertResponse{
		Success:        true,
		Message:        "Conversion complete",
		OutputDir:      result.ResultID,
		Files:          result.Files,
		CoverExtracted: result.CoverReconciled,
		Location:       result.Location,
		Degraded:       result.Degraded(),
		Merge:          req.Options.Merge,
	}
	if name := strings.TrimSpace(req.Options.MergeFileName); name != "" {
		resp.CustomFilename = &name
	}
	respondJSON(w, resp, http.StatusOK)
}

type convertReverseRequest struct {
	Filename   string `json:"filename"`
	OutputName string `json:"outputName"`
}

type convertReverseResponse struct {
	Success bool `json:"success"`
	*convert.ReverseResult
}

// ConvertReverse handles POST /convert-reverse
func (h *ConversionHandler) ConvertReverse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req convertReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		respondError(w, "Filename required", http.StatusBadRequest)
		return
	}

	source, err := h.ws.UploadPath(req.Filename)
	if err != nil {
		respondFailure(w, "Upload not found", err)
		return
	}

	result, err := h.orch.ConvertReverse(r.Context(), types.ConversionRequest{
		SourcePath: source,
		Mode:       types.ModeReverse,
		OutputName: req.OutputName,
	})
	if err != nil {
		respondFailure(w, "Conversion failed", err)
		return
	}

	respondJSON(w, convertReverseResponse{Success: true, ReverseResult: result}, http.StatusOK)
}

// DownloadAll handles GET /download-all/:dir
func (h *ConversionHandler) DownloadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/download-all/")
	if id == "" {
		respondError(w, "Directory required", http.StatusBadRequest)
		return
	}

	dir, err := h.ws.ResultPath(id)
	if err != nil {
		respondFailure(w, "Directory not found", err)
		return
	}

	release := h.ws.Acquire(id)
	defer release()

	baseName := archive.BaseName(r.URL.Query().Get("customFilename"), dir)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", archive.ContentDisposition(baseName+".zip"))
	w.WriteHeader(http.StatusOK)

	err = h.assembler.Build(r.Context(), w, dir, baseName)
	release()
	if err != nil {
		// Headers are gone already; the client sees a truncated archive.
		h.logger.Error("building archive failed", "result", id, "error", err)
		return
	}

	h.logger.Info("archive sent, cleanup scheduled", "result", id, "name", baseName)
	h.ws.ScheduleCleanup(id)
}

// DownloadFile handles GET /download/:dir/:file
func (h *ConversionHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/download/")
	id, file, ok := strings.Cut(rest, "/")
	if !ok || id == "" || file == "" {
		respondError(w, "Directory and file required", http.StatusBadRequest)
		return
	}

	path, err := h.ws.ResultFile(id, file)
	if err != nil {
		respondFailure(w, "File not found", err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		respondError(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", archive.ContentDisposition(filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// DownloadEPUB handles GET /download-epub/:id
func (h *ConversionHandler) DownloadEPUB(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/download-epub/")
	if id == "" {
		respondError(w, "Download ID required", http.StatusBadRequest)
		return
	}

	name, err := h.orch.ArtifactName(r.Context(), id)
	if err != nil {
		respondFailure(w, "EPUB not found", err)
		return
	}

	release := h.ws.Acquire(id)
	defer release()

	reader, err := h.artifacts.Get(r.Context(), util.EPUBArtifactPath(id, name))
	if err != nil {
		respondFailure(w, "EPUB not found", err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/epub+zip")
	w.Header().Set("Content-Disposition", archive.ContentDisposition(name))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("streaming epub failed", "id", id, "error", err)
	}
}
