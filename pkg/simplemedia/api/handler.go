package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Handler serves the media HTTP API.
type Handler struct {
	service        simplemedia.Service
	dispatcher     simplemedia.Dispatcher
	logger         *slog.Logger
	maxUploadBytes int64
	blobUploads    http.Handler
	metrics        http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMaxUploadBytes bounds multipart uploads. It should match the
// service's upload ceiling.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) { h.maxUploadBytes = n }
}

// WithBlobUploads mounts the signed upload receiver at PUT /blobs/*.
func WithBlobUploads(handler http.Handler) Option {
	return func(h *Handler) { h.blobUploads = handler }
}

// WithMetrics mounts a metrics handler at GET /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(h *Handler) { h.metrics = handler }
}

// NewHandler creates the API handler.
func NewHandler(service simplemedia.Service, dispatcher simplemedia.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		dispatcher:     dispatcher,
		logger:         slog.Default(),
		maxUploadBytes: simplemedia.DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router with middleware applied
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware, LoggingMiddleware(h.logger), RecoveryMiddleware(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	if h.blobUploads != nil {
		// Signed URLs carry their own authorization.
		r.Method(http.MethodPut, "/blobs/*", h.blobUploads)
	}

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)
		r.Post("/upload/presign", h.Presign)
		r.With(RequestSizeLimitMiddleware(h.maxUploadBytes+multipartOverhead)).Post("/upload", h.Upload)
		r.Post("/upload/process", h.Process)
		r.Put("/assets", h.ReplaceAsset)
		r.Get("/assets", h.GetAsset)
		r.Delete("/submissions/{submissionID}/media", h.PurgeSubmission)
		r.Delete("/users/me/media", h.PurgeOwner)
		r.Get("/media/crop", h.Crop)
	})
	return r
}

// multipartOverhead allows for form boundaries and fields around the file.
const multipartOverhead = 64 << 10

// PresignRequest asks for a direct-upload URL
type PresignRequest struct {
	FileType     string `json:"fileType"`
	FileSize     int64  `json:"fileSize"`
	Type         string `json:"type"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// PresignResponse carries the signed URL
type PresignResponse struct {
	PresignedURL string `json:"presignedUrl"`
	PublicURL    string `json:"publicUrl"`
	Key          string `json:"key"`
	ExpiresIn    int    `json:"expiresIn"`
}

// ProcessRequest starts ingestion of an uploaded object
type ProcessRequest struct {
	SourceURL    string `json:"sourceUrl"`
	Type         string `json:"type"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// ProcessResponse acknowledges a dispatched ingestion job
type ProcessResponse struct {
	Status    string `json:"status"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
}

// ReplaceAssetRequest points an asset at an uploaded object
type ReplaceAssetRequest struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submissionId,omitempty"`
	Key          string `json:"key"`
}

// AssetResponse describes an asset
type AssetResponse struct {
	Type         string                          `json:"type"`
	SubmissionID string                          `json:"submissionId,omitempty"`
	Key          string                          `json:"key"`
	PublicURL    string                          `json:"publicUrl"`
	Processing   *simplemedia.ProcessingMetadata `json:"processing,omitempty"`
	RetiredKey   string                          `json:"retiredKey,omitempty"`
	Warning      string                          `json:"warning,omitempty"`
}

// Presign issues an upload authorization
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, ok := h.role(w, r, req.Type)
	if !ok {
		return
	}

	auth, err := h.service.IssueUploadAuthorization(r.Context(), simplemedia.IssueRequest{
		OwnerID:       UserIDFrom(r.Context()),
		Role:          role,
		ContentType:   req.FileType,
		ContentLength: req.FileSize,
		SubmissionID:  req.SubmissionID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, PresignResponse{
		PresignedURL: auth.UploadURL,
		PublicURL:    auth.PublicURL,
		Key:          auth.Key,
		ExpiresIn:    auth.ExpiresIn,
	})
}

// Upload stores a multipart file through the synchronous pipeline
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes + multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusBadRequest, string(simplemedia.KindTooLarge), "file exceeds upload limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "invalid multipart form")
		return
	}
	role, ok := h.role(w, r, r.FormValue("type"))
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "failed to read file")
		return
	}

	res, err := h.service.UploadDirect(r.Context(), simplemedia.DirectUploadRequest{
		OwnerID:      UserIDFrom(r.Context()),
		Role:         role,
		SubmissionID: r.FormValue("submissionId"),
		FileName:     header.Filename,
		Data:         data,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// Process attaches an uploaded object to its asset and dispatches the
// ingestion job. The record references the upload until the run replaces it.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, ok := h.role(w, r, req.Type)
	if !ok {
		return
	}
	key, err := h.service.KeyFromURL(req.SourceURL)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), err.Error())
		return
	}

	ref := simplemedia.AssetRef{OwnerID: UserIDFrom(r.Context()), Role: role, SubmissionID: req.SubmissionID}
	replaced, err := h.service.ReplaceAsset(r.Context(), simplemedia.ReplaceRequest{Ref: ref, Key: key})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.dispatcher.Dispatch(r.Context(), simplemedia.Job{SourceURL: req.SourceURL, Ref: ref}); err != nil {
		h.logger.Error("dispatch ingestion job", "ref", ref.String(), "err", err)
		writeError(w, r, http.StatusServiceUnavailable, string(simplemedia.KindUnavailable), "ingestion queue unavailable")
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ProcessResponse{Status: "accepted", Key: key, PublicURL: replaced.Asset.PublicURL})
}

// ReplaceAsset points an asset at an already uploaded object
func (h *Handler) ReplaceAsset(w http.ResponseWriter, r *http.Request) {
	var req ReplaceAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, ok := h.role(w, r, req.Type)
	if !ok {
		return
	}

	res, err := h.service.ReplaceAsset(r.Context(), simplemedia.ReplaceRequest{
		Ref: simplemedia.AssetRef{OwnerID: UserIDFrom(r.Context()), Role: role, SubmissionID: req.SubmissionID},
		Key: req.Key,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := assetResponse(res.Asset)
	resp.RetiredKey = res.RetiredKey
	if res.Warning != nil {
		resp.Warning = "previous object could not be deleted"
	}
	render.JSON(w, r, resp)
}

// GetAsset returns the caller's asset for ?type=&submissionId=
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	role, ok := h.role(w, r, r.URL.Query().Get("type"))
	if !ok {
		return
	}
	asset, err := h.service.GetMediaAsset(r.Context(), simplemedia.AssetRef{
		OwnerID:      UserIDFrom(r.Context()),
		Role:         role,
		SubmissionID: r.URL.Query().Get("submissionId"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, assetResponse(asset))
}

// PurgeSubmission deletes every object of one submission
func (h *Handler) PurgeSubmission(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PurgeSubmissionMedia(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "submissionID"))
	h.writePurge(w, r, res, err)
}

// PurgeOwner deletes every object of the caller
func (h *Handler) PurgeOwner(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PurgeOwnerMedia(r.Context(), UserIDFrom(r.Context()))
	h.writePurge(w, r, res, err)
}

func (h *Handler) writePurge(w http.ResponseWriter, r *http.Request, res *simplemedia.PurgeResult, err error) {
	if err != nil && (res == nil || simplemedia.KindOf(err) != simplemedia.KindPartialFailure) {
		h.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		h.logger.Warn("purge incomplete", "request_id", RequestIDFrom(r.Context()), "failed", len(res.Failed), "err", err)
		render.Status(r, http.StatusMultiStatus)
	}
	render.JSON(w, r, res)
}

// Crop renders a focal-point preview as PNG
func (h *Handler) Crop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := simplemedia.CropRequest{OwnerID: UserIDFrom(r.Context()), Key: q.Get("key")}
	var err error
	if req.Width, err = strconv.Atoi(q.Get("w")); err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "w must be an integer")
		return
	}
	if req.Height, err = strconv.Atoi(q.Get("h")); err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "h must be an integer")
		return
	}
	for name, dst := range map[string]**float64{"fx": &req.FocalX, "fy": &req.FocalY} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), name+" must be a number")
			return
		}
		*dst = &v
	}

	png, err := h.service.CropPreview(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Write(png)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) role(w http.ResponseWriter, r *http.Request, raw string) (simplemedia.Role, bool) {
	role, err := simplemedia.ParseRole(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(simplemedia.KindValidation), err.Error())
		return "", false
	}
	return role, true
}

func assetResponse(a *simplemedia.MediaAsset) AssetResponse {
	return AssetResponse{
		Type:         string(a.Ref.Role),
		SubmissionID: a.Ref.SubmissionID,
		Key:          a.StorageKey,
		PublicURL:    a.PublicURL,
		Processing:   a.ProcessingMetadata,
	}
}
