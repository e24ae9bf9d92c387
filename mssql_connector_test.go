package dbconnector

import "testing"

func TestParseMSSQLTable(t *testing.T) {
	schema, name, err := parseMSSQLTable("monitoring.alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema != "monitoring" || name != "alerts" {
		t.Fatalf("unexpected result: %s %s", schema, name)
	}
}

func TestParseMSSQLTableDefaultSchema(t *testing.T) {
	schema, name, err := parseMSSQLTable("alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema != "dbo" || name != "alerts" {
		t.Fatalf("unexpected result: %s %s", schema, name)
	}
}

func TestQuoteMSSQLTable(t *testing.T) {
	quoted, err := quoteMSSQLTable("monitoring.alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != "[monitoring].[alerts]" {
		t.Fatalf("unexpected quote: %s", quoted)
	}
	if _, err := quoteMSSQLTable("a.b.c"); err == nil {
		t.Fatalf("expected error for three segments")
	}
}
