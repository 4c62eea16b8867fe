// Package debugsrv serves a read-only HTTP status view of a database: entity
// counts and grid occupancy as JSON, refreshed on every request by reading
// the store and grid files under dbDir. It exists only for
// operators poking at a running import/extract pipeline; no core package
// imports it.
//
// Grounded on the teacher's web/api.go: a gorilla/mux router built once in
// an init function and handed to http.ListenAndServe, handlers that load
// index state, do the work, and serialize a response -- the same shape as
// the teacher's /query endpoint, reduced here to read-only GET routes.
package debugsrv

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gorilla/mux"
	"github.com/hauke96/sigolo/v2"

	"osmstore/internal/dump"
	"osmstore/internal/entity"
	"osmstore/internal/grid"
	"osmstore/internal/load"
	"osmstore/internal/lockfile"
	"osmstore/internal/store"
)

// Start builds the router for dbDir and blocks serving it on port.
func Start(dbDir, port string) error {
	r := newRouter(dbDir)
	sigolo.Infof("starting debug server on port %s", port)
	return http.ListenAndServe(":"+port, r)
}

func newRouter(dbDir string) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		handleStatus(dbDir, w, req)
	}).Methods(http.MethodGet)

	r.HandleFunc("/dump", func(w http.ResponseWriter, req *http.Request) {
		handleDump(dbDir, w, req)
	}).Methods(http.MethodGet)

	r.HandleFunc("/cells", func(w http.ResponseWriter, req *http.Request) {
		handleCells(dbDir, w, req)
	}).Methods(http.MethodGet)

	return r
}

type statusResponse struct {
	Nodes          int64 `json:"nodes"`
	Ways           int64 `json:"ways"`
	Relations      int64 `json:"relations"`
	PopulatedCells int   `json:"populatedCells"`
}

func handleStatus(dbDir string, w http.ResponseWriter, _ *http.Request) {
	lock, err := lockfile.AcquireShared(filepath.Join(dbDir, load.LockFileName))
	if err != nil {
		writeError(w, err)
		return
	}
	defer lock.Unlock()

	db, err := store.Open(filepath.Join(dbDir, load.EntitiesFileName))
	if err != nil {
		writeError(w, err)
		return
	}
	defer db.Close()

	var resp statusResponse
	if err := db.ForEachNode(func(int64, entity.Node) error { resp.Nodes++; return nil }); err != nil {
		writeError(w, err)
		return
	}
	if err := db.ForEachWay(func(int64, entity.Way) error { resp.Ways++; return nil }); err != nil {
		writeError(w, err)
		return
	}
	if err := db.ForEachRelation(func(int64, entity.Relation) error { resp.Relations++; return nil }); err != nil {
		writeError(w, err)
		return
	}

	if g, err := loadGrid(dbDir); err == nil {
		resp.PopulatedCells = len(g.Cells())
	}

	writeJSON(w, resp)
}

func handleDump(dbDir string, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := dump.Dump(dbDir, w); err != nil {
		sigolo.Errorf("error writing dump: %+v", err)
	}
}

type cellResponse struct {
	X         uint32 `json:"x"`
	Y         uint32 `json:"y"`
	Ways      int    `json:"ways"`
	Relations int    `json:"relations"`
}

func handleCells(dbDir string, w http.ResponseWriter, _ *http.Request) {
	g, err := loadGrid(dbDir)
	if err != nil {
		writeError(w, err)
		return
	}

	cells := g.Cells()
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})

	resp := make([]cellResponse, 0, len(cells))
	for _, c := range cells {
		var ways, rels int
		g.WaysInCell(c, func(int64) bool { ways++; return true })
		g.RelationsInCell(c, func(int64) bool { rels++; return true })
		resp = append(resp, cellResponse{X: c.X, Y: c.Y, Ways: ways, Relations: rels})
	}

	writeJSON(w, resp)
}

func loadGrid(dbDir string) (*grid.Grid, error) {
	data, err := os.ReadFile(filepath.Join(dbDir, load.GridFileName))
	if err != nil {
		return nil, err
	}
	return grid.Decode(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sigolo.Errorf("error encoding response: %+v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	sigolo.Errorf("debug server error: %+v", err)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(err.Error()))
}
