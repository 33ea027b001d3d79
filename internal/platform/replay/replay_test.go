package replay

import (
	"context"
	"testing"

	"github.com/mj1618/support-roster/internal/model"
)

const script = `
batches:
  - windows:
      - pid: 100
        handle: 11
        process: TeamViewer.exe
        title: PC1 - TeamViewer
        visible: true
  - error: enumeration failed
  - windows:
      - pid: 200
        handle: 22
        process: ezHelpViewer.exe
        title: ezHelp - PC2 (10.0.0.2)
        visible: true
`

func TestParseAndReplay(t *testing.T) {
	src, err := Parse([]byte(script))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	wins, err := src.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 1 || wins[0].Handle != 11 || wins[0].ProcessName != "TeamViewer.exe" {
		t.Fatalf("batch 0 = %+v", wins)
	}

	if _, err := src.Detect(ctx); err == nil {
		t.Error("batch 1 should fail")
	}

	wins, _ = src.Detect(ctx)
	if len(wins) != 1 || wins[0].PID != 200 {
		t.Fatalf("batch 2 = %+v", wins)
	}

	// Without loop the last batch repeats.
	wins, _ = src.Detect(ctx)
	if len(wins) != 1 || wins[0].PID != 200 {
		t.Errorf("repeat = %+v", wins)
	}
}

func TestLoop(t *testing.T) {
	src := New(Script{Loop: true, Batches: []Batch{
		{Windows: []model.RawWindow{{Handle: 1}}},
		{Windows: []model.RawWindow{{Handle: 2}}},
	}})
	ctx := context.Background()
	var got []uint64
	for i := 0; i < 3; i++ {
		wins, _ := src.Detect(ctx)
		got = append(got, wins[0].Handle)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Errorf("handles = %v, want [1 2 1]", got)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse([]byte("batches: []")); err == nil {
		t.Error("expected error for empty script")
	}
}

func TestFocus(t *testing.T) {
	src := New(Script{Batches: []Batch{{Windows: []model.RawWindow{{PID: 7, Handle: 70}}}}})
	ctx := context.Background()
	if _, err := src.Detect(ctx); err != nil {
		t.Fatal(err)
	}

	ok, err := src.Focus(ctx, model.FocusTarget{Handle: 70}, model.TypeEzHelp)
	if err != nil || !ok {
		t.Errorf("focus by handle = %v, %v", ok, err)
	}
	ok, _ = src.Focus(ctx, model.FocusTarget{PID: 7}, model.TypeEzHelp)
	if !ok {
		t.Error("focus by pid should succeed")
	}
	ok, _ = src.Focus(ctx, model.FocusTarget{Handle: 99}, model.TypeEzHelp)
	if ok {
		t.Error("focus of missing window should fail softly")
	}
	if n := len(src.Focused()); n != 3 {
		t.Errorf("focused = %d, want 3", n)
	}
}
