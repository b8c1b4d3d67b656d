package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/validate"
)

// MovieHandlers serves movie registration and tree browsing. Registration
// writes the ledger first and then mirrors the movie, under the ledger's
// movie id, into the off-ledger store that slot locking coordinates on.
type MovieHandlers struct {
	ledger *ledger.Ledger
	mirror tree.Store
}

// NewMovieHandlers creates a MovieHandlers instance.
func NewMovieHandlers(l *ledger.Ledger, mirror tree.Store) *MovieHandlers {
	return &MovieHandlers{ledger: l, mirror: mirror}
}

// CreateMovieRequest is the body of POST /movies.
type CreateMovieRequest struct {
	Title   string `json:"title"`
	Price   int64  `json:"price"`
	Payment int64  `json:"payment"`
}

// CreateMovieResponse is the body of a successful movie registration.
// MirrorGenesisSceneID is the off-ledger row id that first-generation slot
// locks reference as their parent.
type CreateMovieResponse struct {
	TxRef                string      `json:"tx_ref"`
	Movie                *tree.Movie `json:"movie"`
	MirrorGenesisSceneID uint64      `json:"mirror_genesis_scene_id"`
}

// CreateMovie handles POST /movies.
func (h *MovieHandlers) CreateMovie(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req CreateMovieRequest
	if !decodeBody(w, r, &req) {
		return
	}
	title, err := validate.MovieTitle(req.Title)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Title must be 1-200 characters")
		return
	}
	req.Title = title
	if req.Price < 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Price must not be negative")
		return
	}

	ctx := r.Context()
	receipt, err := h.ledger.CreateMovie(ctx, caller, req.Title, req.Price, req.Payment)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}

	movie, err := h.ledger.Movie(ctx, receipt.Event.MovieID)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}

	mirrored := &tree.Movie{
		ID:           movie.ID,
		Title:        movie.Title,
		OwnerAddress: movie.OwnerAddress,
		Price:        movie.Price,
		Active:       movie.Active,
		CreatedAt:    movie.CreatedAt,
	}
	if err := h.mirror.CreateMovie(ctx, mirrored); err != nil {
		slog.ErrorContext(ctx, "mirror movie registration failed",
			"movie_id", movie.ID, "error", err)
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}

	writeJSON(w, ctx, http.StatusCreated, CreateMovieResponse{
		TxRef:                receipt.TxRef,
		Movie:                movie,
		MirrorGenesisSceneID: mirrored.GenesisSceneID,
	})
}

// MovieByID routes /movies/{id}, /movies/{id}/tree and /movies/{id}/active.
func (h *MovieHandlers) MovieByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/movies/"), "/")
	id, err := parseID(parts[0])
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid movie id")
		return
	}

	switch {
	case len(parts) == 1:
		h.getMovie(w, r, id)
	case len(parts) == 2 && parts[1] == "tree":
		h.getTree(w, r, id)
	case len(parts) == 2 && parts[1] == "active":
		h.setActive(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	}
}

func (h *MovieHandlers) getMovie(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	movie, err := h.mirror.GetMovie(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, movie)
}

// MovieTreeResponse is the body of GET /movies/{id}/tree: the movie plus
// every mirror scene row in breadth-first order from the genesis node.
type MovieTreeResponse struct {
	Movie  *tree.Movie     `json:"movie"`
	Scenes []sceneResponse `json:"scenes"`
}

func (h *MovieHandlers) getTree(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	movie, err := h.mirror.GetMovie(ctx, id)
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}

	scenes := make([]sceneResponse, 0, 8)
	queue := []uint64{movie.GenesisSceneID}
	for len(queue) > 0 {
		sceneID := queue[0]
		queue = queue[1:]

		node, err := h.mirror.Get(ctx, sceneID)
		if err != nil {
			writeDomainError(w, r, err, "")
			return
		}
		scenes = append(scenes, newSceneResponse(node))

		children, err := h.mirror.Children(ctx, sceneID)
		if err != nil {
			writeDomainError(w, r, err, "")
			return
		}
		for _, child := range children {
			queue = append(queue, child.ID)
		}
	}

	writeJSON(w, ctx, http.StatusOK, MovieTreeResponse{Movie: movie, Scenes: scenes})
}

// SetMovieActiveRequest is the body of POST /movies/{id}/active.
type SetMovieActiveRequest struct {
	Active bool `json:"active"`
}

func (h *MovieHandlers) setActive(w http.ResponseWriter, r *http.Request, id uint64) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req SetMovieActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	receipt, err := h.ledger.SetMovieActive(ctx, caller, id, req.Active)
	if err != nil {
		writeDomainError(w, r, err, receipt.TxRef)
		return
	}
	if err := h.mirror.SetMovieActive(ctx, id, req.Active); err != nil {
		slog.ErrorContext(ctx, "mirror active flag update failed",
			"movie_id", id, "error", err)
	}

	writeJSON(w, ctx, http.StatusOK, map[string]any{
		"tx_ref":   receipt.TxRef,
		"movie_id": id,
		"active":   req.Active,
	})
}

// parseID parses a decimal path segment into an id.
func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
