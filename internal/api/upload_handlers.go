package api

import (
	"errors"
	"net/http"

	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/storage"
)

// UploadHandlers issues pre-signed URLs for direct asset uploads. The
// returned asset_url is what scene confirmation records as content_ref.
type UploadHandlers struct {
	signer storage.Signer
}

// NewUploadHandlers creates an UploadHandlers instance.
func NewUploadHandlers(signer storage.Signer) *UploadHandlers {
	return &UploadHandlers{signer: signer}
}

// SignUploadRequest is the body of POST /uploads.
type SignUploadRequest struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SceneID     uint64 `json:"scene_id,omitempty"`
}

// SignUpload handles POST /uploads.
func (h *UploadHandlers) SignUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireCaller(w, r); !ok {
		return
	}
	var req SignUploadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	signed, err := h.signer.SignUpload(r.Context(), storage.SignRequest{
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		SceneID:     req.SceneID,
	})
	if err != nil {
		code := ErrCodeInternal
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, storage.ErrUnsupportedType):
			code, status = ErrCodeValidation, http.StatusBadRequest
		case errors.Is(err, storage.ErrFileTooLarge), errors.Is(err, storage.ErrInvalidSize):
			code, status = ErrCodeValidation, http.StatusBadRequest
		}
		ctx := middleware.SetErrorCode(r.Context(), code)
		WriteError(w, ctx, status, code, err.Error())
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, signed)
}
