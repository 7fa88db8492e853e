package mapper_test

import (
	"strings"
	"testing"

	"github.com/pingone-bulk-console/internal/mapper"
)

func TestMapRow_WellKnownColumns(t *testing.T) {
	record, err := mapper.MapRow(map[string]string{
		"Username":      "jdoe",
		"Email":         "jdoe@example.com",
		"First_Name":    "Jane",
		"lastName":      "Doe",
		"population_id": "pop-1",
	})
	if err != nil {
		t.Fatalf("MapRow failed: %v", err)
	}
	if record.Username != "jdoe" {
		t.Errorf("Expected username jdoe, got %q", record.Username)
	}
	if record.Email != "jdoe@example.com" {
		t.Errorf("Expected email, got %q", record.Email)
	}
	if record.GivenName != "Jane" || record.FamilyName != "Doe" {
		t.Errorf("Expected name Jane Doe, got %q %q", record.GivenName, record.FamilyName)
	}
	if record.PopulationID != "pop-1" {
		t.Errorf("Expected population pop-1, got %q", record.PopulationID)
	}
	if len(record.Attributes) != 0 {
		t.Errorf("Expected no custom attributes, got %v", record.Attributes)
	}
}

func TestMapRow_UnknownColumnsRetained(t *testing.T) {
	record, err := mapper.MapRow(map[string]string{
		"username":   "jdoe",
		"department": "engineering",
		"costCenter": "cc-42",
	})
	if err != nil {
		t.Fatalf("MapRow failed: %v", err)
	}
	if record.Attributes["department"] != "engineering" {
		t.Errorf("Expected department attribute, got %v", record.Attributes)
	}
	if record.Attributes["costCenter"] != "cc-42" {
		t.Errorf("Expected costCenter attribute, got %v", record.Attributes)
	}
}

func TestMapRow_MissingIdentifier(t *testing.T) {
	_, err := mapper.MapRow(map[string]string{"givenName": "Jane"})
	if err == nil {
		t.Fatal("Expected error for row without username or email")
	}
	if !strings.Contains(err.Error(), "missing identifier") {
		t.Errorf("Expected missing identifier error, got %v", err)
	}
}

func TestMapRow_InvalidEmail(t *testing.T) {
	_, err := mapper.MapRow(map[string]string{"email": "not-an-email"})
	if err == nil {
		t.Fatal("Expected error for invalid email")
	}
	if !strings.Contains(err.Error(), "invalid email") {
		t.Errorf("Expected invalid email error, got %v", err)
	}
}

func TestMapRow_UsernameOnlyIsEnough(t *testing.T) {
	record, err := mapper.MapRow(map[string]string{"username": "solo"})
	if err != nil {
		t.Fatalf("MapRow failed: %v", err)
	}
	if record.Identifier() != "solo" {
		t.Errorf("Expected identifier solo, got %q", record.Identifier())
	}
}

func TestReadCSV_ParsesQuotedFields(t *testing.T) {
	input := "username,email,note\n" +
		"jdoe,jdoe@example.com,\"hello, \"\"world\"\"\"\n" +
		"asmith,asmith@example.com,plain\n"

	records, rowErrors, err := mapper.ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(rowErrors) != 0 {
		t.Fatalf("Expected no row errors, got %v", rowErrors)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Attributes["note"] != `hello, "world"` {
		t.Errorf("Quoted field not unescaped: %q", records[0].Attributes["note"])
	}
}

func TestReadCSV_ReportsBadRowsWithoutAborting(t *testing.T) {
	input := "username,email\n" +
		"jdoe,jdoe@example.com\n" +
		",\n" +
		"asmith,asmith@example.com\n"

	records, rowErrors, err := mapper.ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 valid records, got %d", len(records))
	}
	if len(rowErrors) != 1 {
		t.Fatalf("Expected 1 row error, got %d", len(rowErrors))
	}
	if rowErrors[0].Line != 3 {
		t.Errorf("Expected error on line 3, got line %d", rowErrors[0].Line)
	}
}

func TestReadCSV_EmptyFile(t *testing.T) {
	_, _, err := mapper.ReadCSV(strings.NewReader(""))
	if err == nil {
		t.Fatal("Expected error for empty file")
	}
}
