package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pingone-bulk-console/internal/models"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// wellKnownColumns maps the CSV column aliases we recognize onto Record
// fields. Anything not listed here passes through as a custom attribute.
var wellKnownColumns = map[string]string{
	"username":      "username",
	"email":         "email",
	"givenname":     "givenName",
	"firstname":     "givenName",
	"first_name":    "givenName",
	"familyname":    "familyName",
	"lastname":      "familyName",
	"last_name":     "familyName",
	"populationid":  "populationId",
	"population_id": "populationId",
	"userid":        "userId",
	"user_id":       "userId",
	"id":            "userId",
}

// MappingError describes why a raw row could not become a Record
type MappingError struct {
	Field   string
	Message string
	Value   string
}

func (e *MappingError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (%q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MapRow normalizes one parsed CSV row into the shape the identity API
// expects. Pure function: no network or I/O side effects. At least one of
// username/email must be present; unknown columns are retained as custom
// attributes, not discarded.
func MapRow(raw map[string]string) (models.Record, error) {
	record := models.Record{}

	for column, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(column))
		switch wellKnownColumns[key] {
		case "username":
			record.Username = value
		case "email":
			record.Email = value
		case "givenName":
			record.GivenName = value
		case "familyName":
			record.FamilyName = value
		case "populationId":
			record.PopulationID = value
		case "userId":
			record.UserID = value
		default:
			if record.Attributes == nil {
				record.Attributes = make(map[string]string)
			}
			record.Attributes[strings.TrimSpace(column)] = value
		}
	}

	if record.Username == "" && record.Email == "" {
		return models.Record{}, &MappingError{Field: "username", Message: "missing identifier: username or email is required"}
	}
	if record.Email != "" && !emailRegex.MatchString(record.Email) {
		return models.Record{}, &MappingError{Field: "email", Message: "invalid email format", Value: record.Email}
	}

	return record, nil
}
