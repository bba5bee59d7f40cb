package universe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"limitboard/internal/domain"
	"limitboard/internal/store"
)

func TestReadCSV(t *testing.T) {
	body := "\ufeffTicker,Name,Industry,Exchange,extra\n" +
		"shop,Shopify,Technology,TSX,x\n" +
		"RY.TO,Royal Bank,Financials,TSX\n" +
		",blank,,\n" +
		"shop,Shopify Inc,Technology,TSX,y\n"
	insts, err := ReadCSV(strings.NewReader(body), domain.MarketCA, ".to")
	if err != nil {
		t.Fatalf("ReadCSV() returned error: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(insts), insts)
	}
	if insts[0].Symbol != "SHOP.TO" || insts[0].Name != "Shopify Inc" {
		t.Errorf("insts[0] = %+v, want SHOP.TO with the last name", insts[0])
	}
	if insts[1].Symbol != "RY.TO" || insts[1].Sector != "Financials" || insts[1].MarketDetail != "TSX" {
		t.Errorf("insts[1] = %+v", insts[1])
	}
	if insts[1].Market != domain.MarketCA {
		t.Errorf("Market = %q, want %q", insts[1].Market, domain.MarketCA)
	}
}

func TestReadCSVNeedsSymbol(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("name,sector\nA,B\n"), domain.MarketUS, ""); err == nil {
		t.Error("ReadCSV(no symbol column) returned nil error")
	}
	insts, err := ReadCSV(strings.NewReader(""), domain.MarketUS, "")
	if err != nil || len(insts) != 0 {
		t.Errorf("ReadCSV(empty) = %v, %v, want nothing", insts, err)
	}
}

func TestWithSuffix(t *testing.T) {
	tests := []struct{ sym, suffix, want string }{
		{" aapl ", "", "AAPL"},
		{"bhp", ".AX", "BHP.AX"},
		{"600000.SS", ".SZ", "600000.SS"},
		{"", ".L", ""},
	}
	for _, tt := range tests {
		if got := WithSuffix(tt.sym, tt.suffix); got != tt.want {
			t.Errorf("WithSuffix(%q, %q) = %q, want %q", tt.sym, tt.suffix, got, tt.want)
		}
	}
}

func TestLoadCSVAndImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.csv")
	if err := os.WriteFile(path, []byte("symbol,name,sector\n7203,Toyota,Autos\n6758,Sony,Tech\n"), 0o644); err != nil {
		t.Fatalf("writing csv: %v", err)
	}
	insts, err := LoadCSV(path, domain.MarketJP, ".T")
	if err != nil {
		t.Fatalf("LoadCSV() returned error: %v", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(dir, "jp.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() returned error: %v", err)
	}
	defer s.Close()

	n, err := Import(context.Background(), s, insts)
	if err != nil || n != 2 {
		t.Fatalf("Import() = %d, %v, want 2", n, err)
	}
	syms, err := s.UniverseSymbols(context.Background())
	if err != nil {
		t.Fatalf("UniverseSymbols() returned error: %v", err)
	}
	if len(syms) != 2 || syms[0] != "6758.T" || syms[1] != "7203.T" {
		t.Errorf("UniverseSymbols() = %v, want [6758.T 7203.T]", syms)
	}

	if _, err := LoadCSV(filepath.Join(dir, "missing.csv"), domain.MarketJP, ""); err == nil {
		t.Error("LoadCSV(missing) returned nil error")
	}
}
