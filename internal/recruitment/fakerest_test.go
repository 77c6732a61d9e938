package recruitment

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRest is an in-memory stand-in for the rest and storage services.
type fakeRest struct {
	mu      sync.Mutex
	tables  map[string][]map[string]any
	calls   map[string]int
	fail    map[string]int
	uploads map[string][]byte
	seq     int
}

func newFakeRest(t *testing.T) (*fakeRest, *httptest.Server) {
	t.Helper()

	f := &fakeRest{
		tables:  make(map[string][]map[string]any),
		calls:   make(map[string]int),
		fail:    make(map[string]int),
		uploads: make(map[string][]byte),
	}

	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRest) seed(table string, rows ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], rows...)
}

func (f *fakeRest) count(method, table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+table]
}

func (f *fakeRest) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeRest) failNext(method, table string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method+" "+table] = status
}

func (f *fakeRest) rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.tables[table]...)
}

func (f *fakeRest) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/storage/v1/object/") {
		f.calls[r.Method+" storage"]++
		data, _ := io.ReadAll(r.Body)
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		f.uploads[key] = data
		writeJSON(w, http.StatusOK, map[string]string{"Key": key})
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	call := r.Method + " " + table
	f.calls[call]++

	if status, ok := f.fail[call]; ok {
		delete(f.fail, call)
		writeJSON(w, status, map[string]string{"code": "XX000", "message": "injected failure"})
		return
	}

	matched := f.match(table, r)

	switch r.Method {
	case http.MethodGet:
		if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
			w.Header().Set("Content-Range", fmt.Sprintf("0-0/%d", len(matched)))
			writeJSON(w, http.StatusOK, []any{})
			return
		}

		out := make([]map[string]any, 0, len(matched))
		for _, row := range matched {
			out = append(out, f.expand(row, r.URL.Query().Get("select")))
		}

		if r.Header.Get("Accept") == "application/vnd.pgrst.object+json" {
			if len(out) != 1 {
				writeJSON(w, http.StatusNotAcceptable, map[string]string{"code": "PGRST116", "message": "JSON object requested, multiple (or no) rows returned"})
				return
			}
			writeJSON(w, http.StatusOK, out[0])
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		f.seq++
		if _, ok := row["id"]; !ok {
			row["id"] = fmt.Sprintf("%s-%d", table, f.seq)
		}
		row["created_at"] = time.Date(2024, 5, 1, 9, 0, f.seq, 0, time.UTC).Format(time.RFC3339Nano)
		f.tables[table] = append(f.tables[table], row)
		writeJSON(w, http.StatusCreated, []any{row})
	case http.MethodPatch:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		for _, row := range matched {
			for k, v := range patch {
				row[k] = v
			}
		}
		writeJSON(w, http.StatusOK, matched)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRest) match(table string, r *http.Request) []map[string]any {
	var out []map[string]any
	for _, row := range f.tables[table] {
		if rowMatches(row, r) {
			out = append(out, row)
		}
	}
	return out
}

func rowMatches(row map[string]any, r *http.Request) bool {
	for column, values := range r.URL.Query() {
		switch column {
		case "select", "order", "limit":
			continue
		}
		for _, v := range values {
			want, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				continue
			}
			if fmt.Sprint(row[column]) != want {
				return false
			}
		}
	}
	return true
}

// expand resolves alias:table(*) relations through the alias_id column.
func (f *fakeRest) expand(row map[string]any, selection string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}

	for _, part := range strings.Split(selection, ",") {
		alias, rest, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		table := strings.TrimSuffix(rest, "(*)")
		out[alias] = nil
		for _, related := range f.tables[table] {
			if related["id"] == row[alias+"_id"] {
				out[alias] = related
				break
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
