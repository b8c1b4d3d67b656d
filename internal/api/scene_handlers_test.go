package api

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetScene(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xalice")

	rr := doRequest(t, fx.scenes.SceneByID, http.MethodGet, fmt.Sprintf("/scenes/%d", locked.ID), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var node sceneResponse
	decodeResponse(t, rr, &node)
	if node.ID != locked.ID || node.Status != "locked" || node.Slot != "A" {
		t.Errorf("scene = %+v", node)
	}

	rr = doRequest(t, fx.scenes.SceneByID, http.MethodGet, "/scenes/999", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing scene status = %d, want 404", rr.Code)
	}
}

func TestGetSceneChildren(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "C", "0xalice")
	lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "A", "0xbob")

	path := fmt.Sprintf("/scenes/%d/children", created.MirrorGenesisSceneID)
	rr := doRequest(t, fx.scenes.SceneByID, http.MethodGet, path, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp SceneChildrenResponse
	decodeResponse(t, rr, &resp)
	if len(resp.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(resp.Children))
	}
	// Slot order, not insertion order.
	if resp.Children[0].Slot != "A" || resp.Children[1].Slot != "C" {
		t.Errorf("slots = %q, %q", resp.Children[0].Slot, resp.Children[1].Slot)
	}
}

func TestGetSlot_QueryLookup(t *testing.T) {
	fx := newFixture(t)
	created := createMovie(t, fx)
	locked := lockSlot(t, fx, created.Movie.ID, created.MirrorGenesisSceneID, "B", "0xalice")

	path := fmt.Sprintf("/slots?movie_id=%d&parent_id=%d&slot=B",
		created.Movie.ID, created.MirrorGenesisSceneID)
	rr := doRequest(t, fx.scenes.GetSlot, http.MethodGet, path, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var node sceneResponse
	decodeResponse(t, rr, &node)
	if node.ID != locked.ID {
		t.Errorf("slot holder = %d, want %d", node.ID, locked.ID)
	}

	// A free slot is a miss, not an empty row.
	path = fmt.Sprintf("/slots?movie_id=%d&parent_id=%d&slot=C",
		created.Movie.ID, created.MirrorGenesisSceneID)
	rr = doRequest(t, fx.scenes.GetSlot, http.MethodGet, path, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("free slot status = %d, want 404", rr.Code)
	}
}

func TestGetSlot_BadQuery(t *testing.T) {
	fx := newFixture(t)
	rr := doRequest(t, fx.scenes.GetSlot, http.MethodGet, "/slots?movie_id=1&parent_id=1&slot=Z", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
