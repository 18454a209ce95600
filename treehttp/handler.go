// Package treehttp exposes a registry's await-trees over HTTP, in the
// spirit of net/http/pprof debug pages.
//
// Mount the handler under a debug path:
//
//	mux.Mount("/debug/await-tree", treehttp.Handler(registry))
//
// Routes:
//
//	GET /        all registered tasks
//	GET /{key}   one task, matched against fmt.Sprint of its key
//
// Both accept ?verbose=1 to include verbose spans and ?format=json for the
// structured export instead of the indented text form.
package treehttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	awaittree "github.com/risingwavelabs/await-tree"
)

// Handler serves dumps of every tree registered in reg.
func Handler(reg *awaittree.Registry) http.Handler {
	h := &handler{reg: reg}
	r := chi.NewRouter()
	r.Get("/", h.dumpAll)
	r.Get("/{key}", h.dumpOne)
	return r
}

type handler struct {
	reg *awaittree.Registry
}

// taskDump is the JSON wire form of one task's tree.
type taskDump struct {
	Key  string             `json:"key"`
	Tree awaittree.Snapshot `json:"tree"`
}

func (h *handler) dumpAll(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") != ""

	tasks := h.reg.Collect()
	dumps := make([]taskDump, 0, len(tasks))
	for _, t := range tasks {
		dumps = append(dumps, taskDump{Key: fmt.Sprint(t.Key), Tree: t.Tree})
	}
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Key < dumps[j].Key })

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, dumps)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, d := range dumps {
		fmt.Fprintf(w, ">> Task %s\n%s\n", d.Key, d.Tree.Render(verbose))
	}
}

func (h *handler) dumpOne(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	verbose := r.URL.Query().Get("verbose") != ""

	// Registry keys are arbitrary comparable values; over HTTP they are
	// matched by their printed form.
	for _, t := range h.reg.Collect() {
		if fmt.Sprint(t.Key) != key {
			continue
		}
		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, taskDump{Key: key, Tree: t.Tree})
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, t.Tree.Render(verbose))
		return
	}
	http.Error(w, "no such task", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
