package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCSVReader_StripsBOM(t *testing.T) {
	in := "\xef\xbb\xbfclient_id,current_class\n42,Form 2\n"
	r, err := NewCSVReader(strings.NewReader(in), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := ReadAll(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	v, ok := rows[0].Get("client_id")
	if !ok {
		t.Fatalf("expected client_id field, got fields %v", rows[0].Fields())
	}
	if v != "42" {
		t.Errorf("expected 42, got %v", v)
	}
	if rows[0].Line != 2 {
		t.Errorf("expected line 2, got %d", rows[0].Line)
	}
}

func TestNewCSVReader_EmptyCellsAreNil(t *testing.T) {
	in := "client_id,has_savings_id,current_class\n42,,Form 2\n43,1\n"
	r, err := NewCSVReader(strings.NewReader(in), ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := ReadAll(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if v, _ := rows[0].Get("has_savings_id"); v != nil {
		t.Errorf("expected nil for empty cell, got %#v", v)
	}
	v, ok := rows[1].Get("current_class")
	if !ok {
		t.Fatal("expected short record to keep the header's fields")
	}
	if v != nil {
		t.Errorf("expected nil for missing trailing cell, got %#v", v)
	}
}

func TestNewCSVReader_Delimiter(t *testing.T) {
	in := "client_id;current_class\n42;Form 2\n"
	r, err := NewCSVReader(strings.NewReader(in), ";")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := row.Get("current_class"); v != "Form 2" {
		t.Errorf("expected Form 2, got %v", v)
	}
}

func TestNewCSVReader_PreservesHeaderOrder(t *testing.T) {
	in := " b , a ,c\n1,2,3\n"
	r, err := NewCSVReader(strings.NewReader(in), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.Join(row.Fields(), ",")
	if got != "b,a,c" {
		t.Errorf("expected b,a,c, got %s", got)
	}
}

func TestNewCSVReader_NoHeader(t *testing.T) {
	if _, err := NewCSVReader(strings.NewReader(""), ""); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestOpenCSV_MissingFile(t *testing.T) {
	if _, err := OpenCSV(filepath.Join(t.TempDir(), "nope.csv"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "education.csv")
	if err := os.WriteFile(path, []byte("client_id\n1\n2\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r, err := Open(context.Background(), Spec{File: path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	rows, err := ReadAll(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestOpen_TableWithoutQuerier(t *testing.T) {
	if _, err := Open(context.Background(), Spec{Table: "dreams_education"}, nil); err == nil {
		t.Fatal("expected error when no source database is configured")
	}
}

func TestCSVReader_CanceledContext(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader("a\n1\n"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
