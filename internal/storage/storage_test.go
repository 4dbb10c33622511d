package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rewired-gh/repricer/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const redline = "AK-47 | Redline (Field-Tested)"

func TestStorage_SetAndGetFloor(t *testing.T) {
	s := newTestStorage(t)

	if _, ok, err := s.GetFloor(redline); err != nil || ok {
		t.Fatalf("GetFloor on empty store: ok=%v err=%v", ok, err)
	}
	if err := s.SetFloor(redline, 9500); err != nil {
		t.Fatalf("SetFloor: %v", err)
	}
	p, ok, err := s.GetFloor(redline)
	if err != nil || !ok || p != 9500 {
		t.Fatalf("GetFloor = %d, %v, %v; want 9500, true, nil", p, ok, err)
	}

	if err := s.SetFloor(redline, 9000); err != nil {
		t.Fatalf("SetFloor overwrite: %v", err)
	}
	if p, _, _ := s.GetFloor(redline); p != 9000 {
		t.Errorf("floor not overwritten: %d", p)
	}
}

func TestStorage_SetFloorRejectsNonPositive(t *testing.T) {
	s := newTestStorage(t)
	for _, p := range []models.Price{0, -1} {
		if err := s.SetFloor(redline, p); !errors.Is(err, ErrInvalidFloor) {
			t.Errorf("SetFloor(%d) error = %v, want ErrInvalidFloor", p, err)
		}
	}
	if err := s.SetFloor("", 100); !errors.Is(err, ErrInvalidHashName) {
		t.Errorf("SetFloor with empty name error = %v", err)
	}
	if floors, _ := s.AllFloors(); len(floors) != 0 {
		t.Errorf("rejected floors must not be stored: %v", floors)
	}
}

func TestStorage_RemoveFloor(t *testing.T) {
	s := newTestStorage(t)

	removed, err := s.RemoveFloor(redline)
	if err != nil || removed {
		t.Fatalf("RemoveFloor on missing: removed=%v err=%v", removed, err)
	}

	if err := s.SetFloor(redline, 9500); err != nil {
		t.Fatalf("SetFloor: %v", err)
	}
	removed, err = s.RemoveFloor(redline)
	if err != nil || !removed {
		t.Fatalf("RemoveFloor: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := s.GetFloor(redline); ok {
		t.Error("floor still present after removal")
	}
}

func TestStorage_AllFloors(t *testing.T) {
	s := newTestStorage(t)
	want := map[string]models.Price{redline: 9500, "AWP | Asiimov (Field-Tested)": 50000}
	for name, p := range want {
		if err := s.SetFloor(name, p); err != nil {
			t.Fatalf("SetFloor: %v", err)
		}
	}
	got, err := s.AllFloors()
	if err != nil {
		t.Fatalf("AllFloors: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d floors, want %d", len(got), len(want))
	}
	for name, p := range want {
		if got[name] != p {
			t.Errorf("floor %q = %d, want %d", name, got[name], p)
		}
	}
}

func TestStorage_SeedFloorsKeepsExisting(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SetFloor(redline, 9000); err != nil {
		t.Fatalf("SetFloor: %v", err)
	}

	added, err := s.SeedFloors(map[string]models.Price{redline: 9500, "Sticker | Crown (Foil)": 800000})
	if err != nil {
		t.Fatalf("SeedFloors: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if p, _, _ := s.GetFloor(redline); p != 9000 {
		t.Errorf("seed overwrote existing floor: %d", p)
	}
}

func TestStorage_SeedFloorsValidates(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.SeedFloors(map[string]models.Price{redline: 0}); !errors.Is(err, ErrInvalidFloor) {
		t.Errorf("SeedFloors error = %v, want ErrInvalidFloor", err)
	}
}

func TestStorage_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floors.db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetFloor(redline, 9500); err != nil {
		t.Fatalf("SetFloor: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if p, ok, _ := s.GetFloor(redline); !ok || p != 9500 {
		t.Errorf("floor lost after reopen: %d, %v", p, ok)
	}
}
