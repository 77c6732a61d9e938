package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestTableRendersHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer

	table := NewTableWithWriter(&buf, "ID", "TITLE", "COMPANY")
	table.AddRow("job-1", "Backend Engineer", "Acme")
	table.AddRow("job-2", "Data Analyst")

	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}
	if err := table.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "TITLE", "COMPANY", "job-1", "Backend Engineer", "Acme", "job-2", "Data Analyst"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	header, first, second := strings.Index(out, "TITLE"), strings.Index(out, "job-1"), strings.Index(out, "job-2")
	if !(header < first && first < second) {
		t.Fatalf("expected header then rows in order:\n%s", out)
	}
}

func TestTableWithoutRows(t *testing.T) {
	var buf bytes.Buffer

	if err := NewTableWithWriter(&buf, "ID").Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "ID") {
		t.Fatalf("expected header, got %q", buf.String())
	}
}
