package gather

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSkiplistAddAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "ca", "skip_symbols.txt")
	sl := NewSkiplist(path)

	added, err := sl.Add("DEAD.TO", "no_price")
	if err != nil || !added {
		t.Fatalf("Add = %v, %v, want true, nil", added, err)
	}
	added, err = sl.Add("DEAD.TO", "no_price")
	if err != nil || added {
		t.Errorf("second Add = %v, %v, want false, nil", added, err)
	}
	if _, err := sl.Add("NOTZ.TO", "tz_missing"); err != nil {
		t.Fatal(err)
	}

	// A fresh handle sees the same file.
	sl2 := NewSkiplist(path)
	entries, err := sl2.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(entries))
	}
	if entries[0].Symbol != "DEAD.TO" || entries[0].Reason != "no_price" {
		t.Errorf("entries[0] = %+v, want DEAD.TO/no_price", entries[0])
	}

	keep, skipped, err := sl2.Filter([]string{"AAA.TO", "DEAD.TO", "NOTZ.TO"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keep) != 1 || keep[0] != "AAA.TO" || len(skipped) != 2 {
		t.Errorf("Filter = %v, %v, want [AAA.TO] and two skipped", keep, skipped)
	}
}

func TestSkiplistHonoursExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip_symbols.txt")
	sl := NewSkiplist(path)

	if ok, _ := sl.Contains("X"); ok {
		t.Fatal("Contains on missing file = true")
	}
	body := "# manual entries\n\nX\tmanual\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, err := sl.Contains("X"); err != nil || !ok {
		t.Errorf("Contains(X) after edit = %v, %v, want true", ok, err)
	}
}

func TestSkiplistRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip_symbols.txt")
	sl := NewSkiplist(path)
	if err := os.WriteFile(path, []byte("# keep me\nA\tno_price\nB\ttz_missing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := sl.Remove("A")
	if err != nil || !removed {
		t.Fatalf("Remove(A) = %v, %v, want true, nil", removed, err)
	}
	if removed, _ := sl.Remove("A"); removed {
		t.Error("second Remove(A) = true, want false")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "# keep me\nB\ttz_missing\n"; got != want {
		t.Errorf("file after Remove = %q, want %q", got, want)
	}
}

func TestSkiplistAddAfterUnterminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip_symbols.txt")
	if err := os.WriteFile(path, []byte("# hand edited\nAAA.TO\tno_price"), 0o644); err != nil {
		t.Fatal(err)
	}
	sl := NewSkiplist(path)

	if _, err := sl.Add("BBB.TO", "tz_missing"); err != nil {
		t.Fatalf("Add(BBB.TO) returned error: %v", err)
	}
	if ok, err := sl.Contains("BBB.TO"); err != nil || !ok {
		t.Errorf("Contains(BBB.TO) = %v, %v, want true", ok, err)
	}
	set, err := sl.Load()
	if err != nil {
		t.Fatal(err)
	}
	if set["AAA.TO"] != "no_price" {
		t.Errorf("AAA.TO reason = %q, want no_price", set["AAA.TO"])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# hand edited\nAAA.TO\tno_price\nBBB.TO\ttz_missing\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestSkiplistNormalisesSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip_symbols.txt")
	if err := os.WriteFile(path, []byte("  abc.to \tmanual\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sl := NewSkiplist(path)

	keep, skipped, err := sl.Filter([]string{"ABC.TO", "XYZ.TO"})
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || skipped[0] != "ABC.TO" || len(keep) != 1 {
		t.Errorf("Filter = %v, %v, want [XYZ.TO] kept and [ABC.TO] skipped", keep, skipped)
	}
	if added, err := sl.Add("Abc.To", "no_price"); err != nil || added {
		t.Errorf("Add(Abc.To) = %v, %v, want false, nil", added, err)
	}
	if removed, err := sl.Remove("ABC.TO"); err != nil || !removed {
		t.Errorf("Remove(ABC.TO) = %v, %v, want true, nil", removed, err)
	}
}
