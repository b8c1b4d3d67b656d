package api

import (
	"net/http"
	"strings"

	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/tree"
)

// SceneHandlers serves read access to mirror scene rows. Browse traffic for
// slot occupancy goes through the slot cache; direct row reads hit the store.
type SceneHandlers struct {
	mirror tree.Store
	cache  *tree.SlotCache
}

// NewSceneHandlers creates a SceneHandlers instance. cache may be nil.
func NewSceneHandlers(mirror tree.Store, cache *tree.SlotCache) *SceneHandlers {
	return &SceneHandlers{mirror: mirror, cache: cache}
}

// SceneByID routes /scenes/{id} and /scenes/{id}/children.
func (h *SceneHandlers) SceneByID(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/scenes/"), "/")
	id, err := parseID(parts[0])
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid scene id")
		return
	}

	switch {
	case len(parts) == 1:
		h.getScene(w, r, id)
	case len(parts) == 2 && parts[1] == "children":
		h.getChildren(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	}
}

func (h *SceneHandlers) getScene(w http.ResponseWriter, r *http.Request, id uint64) {
	node, err := h.mirror.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newSceneResponse(node))
}

// SceneChildrenResponse is the body of GET /scenes/{id}/children.
type SceneChildrenResponse struct {
	SceneID  uint64          `json:"scene_id"`
	Children []sceneResponse `json:"children"`
}

func (h *SceneHandlers) getChildren(w http.ResponseWriter, r *http.Request, id uint64) {
	children, err := h.mirror.Children(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	resp := SceneChildrenResponse{SceneID: id, Children: make([]sceneResponse, 0, len(children))}
	for i := range children {
		resp.Children = append(resp.Children, newSceneResponse(&children[i]))
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

// GetSlot handles GET /slots?movie_id=&parent_id=&slot=. It answers the
// "is this slot free" browse question through the cache, which may serve a
// result up to its TTL stale; claim attempts always race on committed rows.
func (h *SceneHandlers) GetSlot(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	movieID, errMovie := parseID(q.Get("movie_id"))
	parentID, errParent := parseID(q.Get("parent_id"))
	slot, errSlot := tree.ParseSlot(q.Get("slot"))
	if errMovie != nil || errParent != nil || errSlot != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
			"movie_id, parent_id and slot (A, B or C) are required")
		return
	}

	var (
		node *tree.SceneNode
		err  error
	)
	if h.cache != nil {
		node, err = h.cache.GetBySlot(r.Context(), movieID, parentID, slot)
	} else {
		node, err = h.mirror.GetBySlot(r.Context(), movieID, parentID, slot)
	}
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newSceneResponse(node))
}
