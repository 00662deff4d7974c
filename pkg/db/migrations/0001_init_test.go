package migrations

import (
	"reflect"
	"strings"
	"testing"
)

// The read path scans text columns into plain Go strings. A nullable text
// column would surface there as SQL NULL and fail the scan, so every
// non-pointer string field must be declared not null. Nullable values use
// pointer fields (FinishedAt, MatchedItemID, ResolvedAt).
func TestTextColumnsAreNotNullable(t *testing.T) {
	models := []any{
		Item{},
		Audit{},
		SnapshotItem{},
		ScanEvent{},
		Task{},
		Activity{},
	}

	for _, model := range models {
		typ := reflect.TypeOf(model)
		t.Run(typ.Name(), func(t *testing.T) {
			for i := 0; i < typ.NumField(); i++ {
				field := typ.Field(i)
				if field.Type.Kind() != reflect.String {
					continue
				}

				tag := field.Tag.Get("gorm")
				if !strings.Contains(tag, "not null") {
					t.Errorf("%s.%s is a plain string but its column is nullable (tag %q)", typ.Name(), field.Name, tag)
				}
			}
		})
	}
}

// Columns the insert statements omit so the column default applies. Without
// a default a not-null column would reject those inserts outright.
func TestOmittedColumnsHaveDefaults(t *testing.T) {
	cases := []struct {
		model any
		field string
	}{
		{Audit{}, "Note"},
		{Audit{}, "Status"},
		{Task{}, "ResolutionNote"},
		{Item{}, "Status"},
	}

	for _, tc := range cases {
		typ := reflect.TypeOf(tc.model)
		field, ok := typ.FieldByName(tc.field)
		if !ok {
			t.Fatalf("%s has no field %s", typ.Name(), tc.field)
		}
		if !strings.Contains(field.Tag.Get("gorm"), "default:") {
			t.Errorf("%s.%s is omitted by inserts but has no column default (tag %q)",
				typ.Name(), tc.field, field.Tag.Get("gorm"))
		}
	}
}
