package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/plotline/internal/ledger"
	"github.com/onnwee/plotline/internal/middleware"
	"github.com/onnwee/plotline/internal/revenue"
	"github.com/onnwee/plotline/internal/slotlock"
	"github.com/onnwee/plotline/internal/tree"
	"github.com/onnwee/plotline/internal/verifier"
)

const (
	operator     = "op"
	platform     = "treasury"
	owner        = "0xowner"
	scenePrice   = int64(7_000_000)
	movieDeposit = int64(1_000_000)
)

// fixture wires the full claim pipeline behind the HTTP handlers: one
// ledger, one mirror store, lock manager and verifier.
type fixture struct {
	ledger   *ledger.Ledger
	mirror   tree.Store
	movies   *MovieHandlers
	scenes   *SceneHandlers
	slots    *SlotHandlers
	escrows  *EscrowHandlers
	earnings *EarningsHandlers
	config   *ConfigHandlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := ledger.Config{
		EscrowDuration:       24 * time.Hour,
		RefundPercentage:     50,
		MovieCreationDeposit: movieDeposit,
		DefaultScenePrice:    scenePrice,
		Shares: revenue.Shares{
			ParentBp:           2000,
			GrandparentBp:      1000,
			GreatGrandparentBp: 500,
			MovieOwnerBp:       5500,
			PlatformBp:         1000,
		},
	}
	l := ledger.New(operator, platform, cfg, nil, nil)
	mirror := tree.NewInMemoryStore()
	locks := slotlock.NewManager(mirror, nil, 5*time.Minute, 24*time.Hour)
	v := verifier.New(l, mirror, nil)

	return &fixture{
		ledger:   l,
		mirror:   mirror,
		movies:   NewMovieHandlers(l, mirror),
		scenes:   NewSceneHandlers(mirror, nil),
		slots:    NewSlotHandlers(locks, v),
		escrows:  NewEscrowHandlers(l),
		earnings: NewEarningsHandlers(l),
		config:   NewConfigHandlers(l),
	}
}

// doRequest serves one request against a handler func, authenticating as
// caller when non-empty.
func doRequest(t *testing.T, handler http.HandlerFunc, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req = req.WithContext(middleware.SetCallerAddress(req.Context(), caller))
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

// decodeResponse unmarshals a response body.
func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rr.Body.String())
	}
}

// errorCodeOf extracts the error code from an error envelope.
func errorCodeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeResponse(t, rr, &resp)
	return resp.Error.Code
}

// createMovie registers a movie as owner and returns the creation response.
func createMovie(t *testing.T, fx *fixture) CreateMovieResponse {
	t.Helper()
	rr := doRequest(t, fx.movies.CreateMovie, http.MethodPost, "/movies", owner, CreateMovieRequest{
		Title:   "The Fork",
		Payment: movieDeposit,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create movie status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp CreateMovieResponse
	decodeResponse(t, rr, &resp)
	return resp
}

// lockSlot acquires a mirror lock and returns the row.
func lockSlot(t *testing.T, fx *fixture, movieID, parentID uint64, slot, claimant string) sceneResponse {
	t.Helper()
	rr := doRequest(t, fx.slots.LockSlot, http.MethodPost, "/slots/lock", claimant, LockSlotRequest{
		MovieID:       movieID,
		ParentSceneID: parentID,
		Slot:          slot,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("lock slot status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp sceneResponse
	decodeResponse(t, rr, &resp)
	return resp
}

// claimSlot submits a ledger claim and returns its receipt.
func claimSlot(t *testing.T, fx *fixture, movieID, parentID uint64, slot, buyer string) receiptResponse {
	t.Helper()
	rr := doRequest(t, fx.escrows.SubmitClaim, http.MethodPost, "/escrows", buyer, ClaimSlotRequest{
		MovieID:       movieID,
		ParentSceneID: parentID,
		Slot:          slot,
		Payment:       scenePrice,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit claim status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp receiptResponse
	decodeResponse(t, rr, &resp)
	return resp
}
