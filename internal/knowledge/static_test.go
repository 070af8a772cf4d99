package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "ToolPilot/internal/errors"
)

func testProvider() *StaticProvider {
	return NewFromEntries(
		[]Snippet{
			{Topic: "work hours", Content: "Meetings between 10:00 and 17:00.", Tags: []string{"calendar"}},
			{Topic: "travel", Content: "Prefers window seats.", Tags: []string{"flights"}},
			{Topic: "email signature", Content: "Sign with Best regards.", Tags: []string{"email"}},
		},
		[]Contact{
			{Name: "Alice Johnson", Email: "alice.johnson@example.com", Aliases: []string{"alice"}},
			{Name: "Bob Martinez", Email: "bob.martinez@example.com"},
		},
	)
}

func TestQueryRanksTopicAboveContent(t *testing.T) {
	provider := NewFromEntries([]Snippet{
		{Topic: "misc", Content: "mentions email in passing"},
		{Topic: "email signature", Content: "Sign with Best regards."},
	}, nil)

	results := provider.Query("email", 0)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Topic != "email signature" {
		t.Fatalf("first result = %q, want topic match first", results[0].Topic)
	}
}

func TestQueryRespectsLimit(t *testing.T) {
	provider := testProvider()
	results := provider.Query("e", 1)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestQueryNoMatch(t *testing.T) {
	if results := testProvider().Query("submarine", 0); len(results) != 0 {
		t.Fatalf("got %v, want none", results)
	}
}

func TestLookupContactExactAndAlias(t *testing.T) {
	provider := testProvider()

	contact, err := provider.LookupContact("Alice Johnson")
	if err != nil {
		t.Fatalf("exact lookup failed: %v", err)
	}
	if contact.Email != "alice.johnson@example.com" {
		t.Fatalf("Email = %q", contact.Email)
	}

	contact, err = provider.LookupContact("ALICE")
	if err != nil {
		t.Fatalf("alias lookup failed: %v", err)
	}
	if contact.Name != "Alice Johnson" {
		t.Fatalf("Name = %q", contact.Name)
	}
}

func TestLookupContactPrefix(t *testing.T) {
	contact, err := testProvider().LookupContact("bob")
	if err != nil {
		t.Fatalf("prefix lookup failed: %v", err)
	}
	if contact.Email != "bob.martinez@example.com" {
		t.Fatalf("Email = %q", contact.Email)
	}
}

func TestLookupContactNotFound(t *testing.T) {
	_, err := testProvider().LookupContact("charlie")
	if !errors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestNewStaticProviderLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	payload := `{"snippets":[{"topic":"pets","content":"Has a cat named Miso."}],"contacts":[{"name":"Dana","email":"dana@example.com"}]}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	provider, err := NewStaticProvider(path)
	if err != nil {
		t.Fatalf("NewStaticProvider: %v", err)
	}
	if results := provider.Query("pets", 0); len(results) != 1 {
		t.Fatalf("Query = %v", results)
	}
	if _, err := provider.LookupContact("dana"); err != nil {
		t.Fatalf("LookupContact: %v", err)
	}
}

func TestNewStaticProviderEmptyPath(t *testing.T) {
	provider, err := NewStaticProvider("")
	if err != nil {
		t.Fatalf("empty path should not fail: %v", err)
	}
	if results := provider.Query("anything", 0); results != nil {
		t.Fatalf("Query on empty provider = %v", results)
	}
}
