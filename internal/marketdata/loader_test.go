package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const spyCSV = `date,open,high,low,close,volume,iv
2024-03-04,500.1,502.0,499.0,501.2,1000000,15.5
2024-03-05,501.2,503.5,500.8,502.9,1100000,16.1
2024-03-06,502.9,504.0,501.0,503.3,900000,17.0
`

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SPY.csv")
	if err := os.WriteFile(path, []byte(spyCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadCSV(path, "SPY")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Days) != 3 {
		t.Fatalf("got %d bars, want 3", len(s.Days))
	}
	got := s.Days[1]
	if got.Close != 502.9 || got.IV != 16.1 || got.Volume != 1100000 {
		t.Errorf("row parse mismatch: %+v", got)
	}
	if s.First() != d("2024-03-04") || s.Last() != d("2024-03-06") {
		t.Errorf("range mismatch: %s..%s", s.First(), s.Last())
	}
}

func TestLoadCSVRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"header only", "date,open,high,low,close,volume,iv\n"},
		{"short row", "date,open,high,low,close,volume,iv\n2024-03-04,500,502\n"},
		{"bad date", "date,open,high,low,close,volume,iv\nyesterday,500,502,499,501,1000,15\n"},
		{"bad number", "date,open,high,low,close,volume,iv\n2024-03-04,500,502,499,lots,1000,15\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "SPY.csv")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadCSV(path, "SPY"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, sym := range []string{"SPY", "QQQ"} {
		if err := os.WriteFile(filepath.Join(dir, sym+".csv"), []byte(spyCSV), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	data, err := LoadDir(context.Background(), dir, []string{"SPY", "QQQ"})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 || data["SPY"] == nil || data["QQQ"] == nil {
		t.Fatalf("unexpected result: %v", data)
	}

	if _, err := LoadDir(context.Background(), dir, []string{"SPY", "IWM"}); err == nil {
		t.Error("missing symbol file should fail the whole load")
	}
}
