package filtering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/hireboard/internal/recruitment"
)

type fakeApplications struct {
	apps  []recruitment.Application
	err   error
	calls int
}

func (f *fakeApplications) UserApplications(context.Context) ([]recruitment.Application, error) {
	f.calls++
	return f.apps, f.err
}

func testJobs() *recruitment.Jobs {
	return &recruitment.Jobs{Items: []*recruitment.Job{
		{ID: "1", Title: "Go Developer", Company: "Acme", EmploymentType: "full-time", Requirements: []string{"Kubernetes"}},
		{ID: "2", Title: "Frontend Developer", Company: "Globex", EmploymentType: "contract"},
		{ID: "3", Title: "Platform Engineer", Company: "Initech", EmploymentType: "Full-Time", Description: "Go and Terraform"},
		{ID: "4", Title: "Data Analyst", Company: "Acme", EmploymentType: "part-time"},
	}}
}

func ids(jobs *recruitment.Jobs) []string {
	out := make([]string, 0, jobs.Len())
	for _, j := range jobs.Items {
		out = append(out, j.ID)
	}
	return out
}

func TestRunAppliesStepsInOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	applications := &fakeApplications{apps: []recruitment.Application{{JobID: "2"}}}

	steps := []Filter{
		NewAppliedHistory(nil, AppliedHistoryDeps{Applications: applications}),
		NewCompanies([]string{"Initech"}, nil),
		NewEmploymentType([]string{"full-time", "part-time"}, nil),
		NewText("", nil),
	}

	jobs, err := Run(context.Background(), zap.New(core), steps, testJobs())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := ids(jobs); !slices.Equal(got, []string{"1", "4"}) {
		t.Fatalf("unexpected jobs left: %v", got)
	}

	entries := logs.FilterMessage("filter step").All()
	if len(entries) != len(steps) {
		t.Fatalf("expected %d step logs, got %d", len(steps), len(entries))
	}
	first := entries[0].ContextMap()
	if first["name"] != "applied_history" || first["dropped"] != int64(1) || first["left"] != int64(3) {
		t.Fatalf("unexpected first step log: %v", first)
	}
}

func TestRunSkipsDisabledFilters(t *testing.T) {
	applications := &fakeApplications{apps: []recruitment.Application{{JobID: "1"}}}
	steps := []Filter{
		NewAppliedHistory(nil, AppliedHistoryDeps{Applications: applications}),
		NewCompanies([]string{"Acme"}, nil),
	}
	DisableByName(steps, "companies", "disabled in config")

	jobs, err := Run(context.Background(), nil, steps, testJobs())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := ids(jobs); !slices.Equal(got, []string{"2", "3", "4"}) {
		t.Fatalf("unexpected jobs left: %v", got)
	}

	statuses := Describe(steps)
	if statuses[1].Enabled || statuses[1].Reason != "disabled in config" {
		t.Fatalf("unexpected status: %+v", statuses[1])
	}
}

func TestRunValidatesBeforeApplying(t *testing.T) {
	steps := []Filter{
		NewCompanies([]string{"Acme"}, nil),
		NewAppliedHistory(nil, AppliedHistoryDeps{}),
	}

	jobs := testJobs()
	if _, err := Run(context.Background(), nil, steps, jobs); err == nil {
		t.Fatal("expected validation error")
	}
	if jobs.Len() != 4 {
		t.Fatalf("no step should run when validation fails, got %d jobs", jobs.Len())
	}
}

func TestAppliedHistory(t *testing.T) {
	t.Run("ignored", func(t *testing.T) {
		applications := &fakeApplications{}
		f := NewAppliedHistory(&AppliedHistoryConfig{Ignore: true}, AppliedHistoryDeps{Applications: applications})

		_, step, err := f.Apply(context.Background(), testJobs())
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if step.Dropped != 0 || applications.calls != 0 {
			t.Fatalf("expected no lookup when ignored, step=%+v calls=%d", step, applications.calls)
		}
	})

	t.Run("source error", func(t *testing.T) {
		boom := errors.New("boom")
		f := NewAppliedHistory(nil, AppliedHistoryDeps{Applications: &fakeApplications{err: boom}})

		if _, _, err := f.Apply(context.Background(), testJobs()); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped source error, got %v", err)
		}
	})
}

func TestTextFilter(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{query: "go", want: []string{"1", "3"}},
		{query: "GO terraform", want: []string{"3"}},
		{query: "kubernetes", want: []string{"1"}},
		{query: "acme analyst", want: []string{"4"}},
		{query: "cobol", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			jobs, step, err := NewText(tt.query, nil).Apply(context.Background(), testJobs())
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got := ids(jobs); !slices.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if step.Initial != 4 || step.Left != len(tt.want) || step.Dropped != 4-len(tt.want) {
				t.Fatalf("unexpected step: %+v", step)
			}
		})
	}
}

func TestEmploymentTypeIgnoresCase(t *testing.T) {
	jobs, _, err := NewEmploymentType([]string{" FULL-TIME "}, nil).Apply(context.Background(), testJobs())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := ids(jobs); !slices.Equal(got, []string{"1", "3"}) {
		t.Fatalf("unexpected jobs: %v", got)
	}
}

func TestExcludeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "excluded.json")

	excluded, err := LoadExcluded(path)
	if err != nil {
		t.Fatalf("LoadExcluded() on missing file error = %v", err)
	}
	if len(excluded.Items) != 0 {
		t.Fatalf("expected empty list, got %d", len(excluded.Items))
	}

	jobs := testJobs()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	excluded.Add(at, jobs.Items[0], jobs.Items[2])
	excluded.Add(at, jobs.Items[0])
	if len(excluded.Items) != 2 {
		t.Fatalf("expected duplicates to be skipped, got %d", len(excluded.Items))
	}
	if err := excluded.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	left, step, err := NewExcludeFile(path, nil).Apply(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := ids(left); !slices.Equal(got, []string{"2", "4"}) {
		t.Fatalf("unexpected jobs: %v", got)
	}
	if step.Dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", step.Dropped)
	}

	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewExcludeFile(path, nil).Apply(context.Background(), testJobs()); err == nil {
		t.Fatal("expected error for a corrupt exclude file")
	}
}
