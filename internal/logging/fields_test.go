package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestWithCommonAppendsServiceAndVersion(t *testing.T) {
	attrs := WithCommon(nil, "livescore-service", "v1")
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(attrs))
	}
	if attrs[0].Key != FieldService || attrs[0].Value.String() != "livescore-service" {
		t.Fatalf("expected service attr, got %+v", attrs[0])
	}
	if attrs[1].Key != FieldVersion || attrs[1].Value.String() != "v1" {
		t.Fatalf("expected version attr, got %+v", attrs[1])
	}
	if attrs := WithCommon([]slog.Attr{slog.String(FieldScope, "collection")}, "", ""); len(attrs) != 1 || attrs[0].Key != FieldScope {
		t.Fatalf("expected original attrs preserved, got %+v", attrs)
	}
}

// Dashboards and alerts query these keys; renaming one breaks them.
func TestFieldKeysAreStable(t *testing.T) {
	want := map[string]string{
		FieldMatchID:   "match_id",
		FieldScope:     "scope",
		FieldTable:     "table",
		FieldOperation: "operation",
		FieldUserID:    "user_id",
		FieldRole:      "role",
		FieldConnID:    "conn_id",
		FieldStore:     "store",
		FieldError:     "error",
		FieldRequestID: "request_id",
	}
	for got, expected := range want {
		if got != expected {
			t.Fatalf("field key %q changed, want %q", got, expected)
		}
	}
}

func TestFieldKeysAreDistinct(t *testing.T) {
	keys := []string{
		FieldService, FieldVersion, FieldStore, FieldRequestID, FieldPath, FieldMethod,
		FieldStatusCode, FieldCount, FieldDurationMS, FieldMatchID, FieldScope, FieldTable,
		FieldOperation, FieldUserID, FieldRole, FieldConnID, FieldError,
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate field key %q", k)
		}
		seen[k] = true
	}
}

func TestMutationLogLineCarriesDomainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Info(logger, "mutation applied",
		FieldMatchID, "m1",
		FieldOperation, "increment_score",
		FieldRole, "scorekeeper",
		FieldUserID, "keeper",
	)
	out := buf.String()
	for _, kv := range []string{"match_id=m1", "operation=increment_score", "role=scorekeeper", "user_id=keeper"} {
		if !strings.Contains(out, kv) {
			t.Fatalf("expected %s in %q", kv, out)
		}
	}
}
