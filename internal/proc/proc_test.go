package proc

import (
	"context"
	"sort"
	"testing"

	"orch/internal/execx"
)

type psRunner struct{ output string }

func (p psRunner) Run(ctx context.Context, req execx.Request) (execx.Result, error) {
	return execx.Result{Stdout: p.output}, nil
}

func (p psRunner) LookPath(bin string) error { return nil }

func TestDescendantsWalksTree(t *testing.T) {
	// 100 -> 101 -> 103, 100 -> 102; 200 is unrelated.
	ps := psRunner{output: `
  100     1
  101   100
  102   100
  103   101
  200     1
`}
	got, err := NewPS(ps).Descendants(context.Background(), 100)
	if err != nil {
		t.Fatalf("Descendants failed: %v", err)
	}
	sort.Ints(got)
	want := []int{101, 102, 103}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDescendantsLeafProcess(t *testing.T) {
	ps := psRunner{output: "  100     1\n  200     1\n"}
	got, err := NewPS(ps).Descendants(context.Background(), 100)
	if err != nil {
		t.Fatalf("Descendants failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("leaf process has no descendants, got %v", got)
	}
}

func TestDescendantsIgnoresMalformedLines(t *testing.T) {
	ps := psRunner{output: "garbage line\n  100     1\n  101   100\nPID PPID\n"}
	got, err := NewPS(ps).Descendants(context.Background(), 100)
	if err != nil {
		t.Fatalf("Descendants failed: %v", err)
	}
	if len(got) != 1 || got[0] != 101 {
		t.Errorf("got %v", got)
	}
}
