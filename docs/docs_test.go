package docs

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestDocRegistered(t *testing.T) {
	doc, err := swag.ReadDoc()
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	var parsed struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Expected valid JSON doc but got %v", err)
	}
	if parsed.BasePath != "/api/marketplace" {
		t.Errorf("Expected base path /api/marketplace but got %q", parsed.BasePath)
	}
	for _, p := range []string{"/register", "/orders", "/escrows/{id}/finish-work", "/events"} {
		if _, ok := parsed.Paths[p]; !ok {
			t.Errorf("Expected path %s in doc", p)
		}
	}
}
