package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/service"
	"cloudshare-backend/internal/vfs"

	"github.com/go-chi/chi/v5"
)

// maxMemoryMultipart is the part of a multipart form kept in memory
const maxMemoryMultipart = 32 << 20

// fileItem is an entity as listed by the file browser
type fileItem struct {
	*models.Entity
	URL string `json:"url,omitempty"`
}

func toItems(entities []*models.Entity) []fileItem {
	items := make([]fileItem, 0, len(entities))
	for _, e := range entities {
		item := fileItem{Entity: e}
		if !e.IsFolder() && strings.HasPrefix(e.MimeType, "image/") {
			item.URL = "/api/files/preview/" + e.ID
		}
		items = append(items, item)
	}
	return items
}

// linkResponse is the JSON face of a created share link
type linkResponse struct {
	Token     string           `json:"token"`
	URL       string           `json:"url"`
	Scope     models.LinkScope `json:"scope"`
	ExpiresAt *time.Time       `json:"expiresAt"`
	MaxAccess *int             `json:"maxAccess"`
	Protected bool             `json:"protected"`
}

func newLinkResponse(created *service.CreatedLink) *linkResponse {
	if created == nil {
		return nil
	}
	return &linkResponse{
		Token:     created.Link.Token,
		URL:       created.ShareURL,
		Scope:     created.Link.Scope,
		ExpiresAt: created.Link.ExpiresAt,
		MaxAccess: created.Link.MaxAccess,
		Protected: created.Link.HasPassword(),
	}
}

// parseExpiry accepts "never", an empty value, a Go duration like "24h" or a
// day count like "7d"
func parseExpiry(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "never" {
		return 0, nil
	}
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days < 1 {
			return 0, fmt.Errorf("invalid expiry %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid expiry %q", value)
	}
	return d, nil
}

// splitList flattens repeated and comma separated form values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func readPart(fh *multipart.FileHeader) (service.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadFile{}, err
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return service.UploadFile{}, err
	}
	return service.UploadFile{
		OriginalName: fh.Filename,
		MimeType:     fh.Header.Get("Content-Type"),
		Body:         body,
	}, nil
}

// handleUpload (POST /files/upload)
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	if r.ContentLength > h.opts.MaxUploadBytes {
		h.respondWithError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryMultipart); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		h.respondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	var headers []*multipart.FileHeader
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["file"]...)
	req := service.UploadRequest{
		RelativePaths: form.Value["relativePaths"],
		ParentPath:    r.FormValue("parentPath"),
	}
	for _, fh := range headers {
		file, err := readPart(fh)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "could not read uploaded file")
			return
		}
		req.Files = append(req.Files, file)
	}

	if encType := r.FormValue("encryptionType"); encType != "" {
		req.Encryption = &models.Encryption{
			Type:       encType,
			IV:         r.FormValue("iv"),
			WrappedKey: r.FormValue("encryptedKey"),
		}
	}

	if shareType := r.FormValue("shareType"); shareType != "" {
		expiresIn, err := parseExpiry(r.FormValue("expiry"))
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		scope := models.ScopePublic
		if shareType == "private" || shareType == string(models.ScopeRestricted) {
			scope = models.ScopeRestricted
		}
		req.Share = &service.UploadShareOptions{
			Scope:     scope,
			Emails:    splitList(form.Value["emails"]),
			ExpiresIn: expiresIn,
			Password:  r.FormValue("password"),
		}
	}

	result, err := h.uploads.UploadBatch(r.Context(), caller, req)
	if err != nil {
		if result == nil || len(result.Created) == 0 {
			h.respondWithAppError(w, r, err)
			return
		}
		// Items stored before the failure are kept and reported
		kind := apperr.KindOf(err)
		status := statusFor(kind)
		body := errorBody(status, apperr.MessageOf(err), kind)
		body["created"] = result.Created
		h.respondWithJSON(w, status, body)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, struct {
		Created   []*models.Entity `json:"created"`
		ShareLink *linkResponse    `json:"shareLink,omitempty"`
	}{Created: result.Created, ShareLink: newLinkResponse(result.ShareLink)})
}

// handleListAll (GET /files)
func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	entities, err := h.files.ListAll(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": toItems(entities)})
}

// handleListChildren (GET /files/list?path=)
func (h *Handler) handleListChildren(w http.ResponseWriter, r *http.Request) {
	dir, err := vfs.NormalizeDir(r.URL.Query().Get("path"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	entities, err := h.folders.ListChildren(r.Context(), callerFrom(r.Context()), dir)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"path": dir, "items": toItems(entities)})
}

// handleCreateFolder (POST /files/folder)
func (h *Handler) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required,max=255"`
		Path string `json:"path"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		req.Path = "/"
	}

	folder, err := h.folders.CreateFolder(r.Context(), callerFrom(r.Context()), req.Path, req.Name)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, folder)
}

// handleMove (PUT /files/move)
func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID         string `json:"itemId" validate:"required"`
		TargetFolderID string `json:"targetFolderId"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	entity, err := h.folders.Move(r.Context(), callerFrom(r.Context()), req.ItemID, req.TargetFolderID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entity)
}

// handleRename (PUT /files/rename)
func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID  string `json:"itemId" validate:"required"`
		NewName string `json:"newName" validate:"required,max=255"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	entity, err := h.folders.Rename(r.Context(), callerFrom(r.Context()), req.ItemID, req.NewName)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entity)
}

// handleDelete (DELETE /files/{id}?recursive=)
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))
	err := h.files.Delete(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), recursive)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownload (GET /files/download/{id})
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	download, err := h.files.Download(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, download)
}

// handlePreview (GET /files/preview/{id})
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	url, err := h.files.PreviewURL(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleStorage (GET /files/storage)
func (h *Handler) handleStorage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.files.StorageUsage(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, usage)
}

type shareRequest struct {
	FileID       string `json:"fileId" validate:"required"`
	TargetUserID string `json:"targetUserId" validate:"required_without=TargetEmail"`
	TargetEmail  string `json:"targetEmail" validate:"omitempty,email"`
}

// handleShare (POST /files/share)
func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	target := service.ShareTarget{UserID: req.TargetUserID, Email: req.TargetEmail}
	user, err := h.files.Share(r.Context(), callerFrom(r.Context()), req.FileID, target)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"fileId": req.FileID, "sharedWith": user})
}

// handleUnshare (POST /files/unshare)
func (h *Handler) handleUnshare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	target := service.ShareTarget{UserID: req.TargetUserID, Email: req.TargetEmail}
	user, err := h.files.Unshare(r.Context(), callerFrom(r.Context()), req.FileID, target)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"fileId": req.FileID, "removed": user})
}

// handleSharedWithMe (GET /files/shared-with-me)
func (h *Handler) handleSharedWithMe(w http.ResponseWriter, r *http.Request) {
	entities, err := h.files.SharedWithMe(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": toItems(entities)})
}
