package factory

import (
	"path/filepath"
	"testing"
)

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := NewSinkFromDSN("   "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestUnsupportedSchemeRejected(t *testing.T) {
	if _, err := NewSinkFromDSN("kafka://broker:9092/topic"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestBarePathDefaultsToSQLite(t *testing.T) {
	sink, err := NewSinkFromDSN(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()
}

func TestSqliteMemoryDSN(t *testing.T) {
	sink, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()
}
