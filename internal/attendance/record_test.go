package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRecordJSONFlattensExtra(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 15, 0, 123_000_000, time.UTC)
	rec := Record{
		Code:      "482913",
		CreatedAt: at,
		UpdatedAt: at,
		Artifact:  "data:image/png;base64,AAAA",
		Extra:     map[string]any{"name": "Ada", "code": "hijack"},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["code"] != "482913" {
		t.Fatalf("expected fixed code to win over extra, got %v", obj["code"])
	}
	if obj["name"] != "Ada" {
		t.Fatalf("expected name flattened, got %v", obj["name"])
	}
	if obj["createdAt"] != "2026-03-02T09:15:00.123Z" {
		t.Fatalf("unexpected createdAt %v", obj["createdAt"])
	}
	if _, ok := obj["checkOut"]; ok {
		t.Fatalf("open record must not carry checkOut")
	}
	if obj["qrCode"] != "data:image/png;base64,AAAA" {
		t.Fatalf("expected artifact under qrCode, got %v", obj["qrCode"])
	}
}

func TestRecordUnmarshalLegacyDocument(t *testing.T) {
	doc := `{
		"code": "123456",
		"qrCode": "data:image/png;base64,xyz",
		"createdAt": "2025-01-10T08:00:00.000Z",
		"updatedAt": "2025-01-10T17:30:00.500Z",
		"name": "Grace",
		"room": 12,
		"checkOut": "2025-01-10T17:30:00.500Z"
	}`
	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Code != "123456" || rec.Artifact != "data:image/png;base64,xyz" {
		t.Fatalf("fixed fields not decoded: %+v", rec)
	}
	if rec.Open() {
		t.Fatalf("expected checked out record")
	}
	want := time.Date(2025, 1, 10, 17, 30, 0, 500_000_000, time.UTC)
	if !rec.CheckOut.Equal(want) || !rec.UpdatedAt.Equal(want) {
		t.Fatalf("unexpected checkout %v / updated %v", rec.CheckOut, rec.UpdatedAt)
	}
	if rec.Extra["name"] != "Grace" || rec.Extra["room"] != float64(12) {
		t.Fatalf("unexpected extra %v", rec.Extra)
	}
	if _, ok := rec.Extra["code"]; ok {
		t.Fatalf("reserved key leaked into extra")
	}
}

func TestRecordUnmarshalRejectsBadTimestamp(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"code":"123456","createdAt":"yesterday"}`), &rec)
	if err == nil {
		t.Fatalf("expected error for bad timestamp")
	}
}

func TestNormalizeExtra(t *testing.T) {
	out, err := NormalizeExtra(map[string]any{"name": "Ada", "createdAt": "x", "checkOut": "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out["name"] != "Ada" {
		t.Fatalf("expected only name to survive, got %v", out)
	}

	too := map[string]any{}
	for i := 0; i <= MaxExtraFields; i++ {
		too[fmt.Sprintf("field%02d", i)] = i
	}
	if _, err := NormalizeExtra(too); !errors.Is(err, ErrInvalidExtra) {
		t.Fatalf("expected ErrInvalidExtra for %d fields, got %v", len(too), err)
	}

	if _, err := NormalizeExtra(map[string]any{strings.Repeat("k", MaxExtraKeyLen+1): 1}); !errors.Is(err, ErrInvalidExtra) {
		t.Fatalf("expected ErrInvalidExtra for long key, got %v", err)
	}
	if _, err := NormalizeExtra(map[string]any{"note": strings.Repeat("n", MaxExtraValueSize)}); !errors.Is(err, ErrInvalidExtra) {
		t.Fatalf("expected ErrInvalidExtra for large value, got %v", err)
	}
	if out, err := NormalizeExtra(nil); err != nil || len(out) != 0 {
		t.Fatalf("expected empty map for nil input, got %v %v", out, err)
	}
}

func TestPatchApply(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rec := Record{Code: "111111", CreatedAt: t0, UpdatedAt: t0}

	// a clock reading equal to the last update still moves updatedAt forward
	if err := (Patch{CheckOut: true, RequireOpen: true, At: t0}).Apply(&rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Open() {
		t.Fatalf("expected checkout to be set")
	}
	if !rec.UpdatedAt.After(rec.CreatedAt) {
		t.Fatalf("updatedAt %v must be after createdAt %v", rec.UpdatedAt, rec.CreatedAt)
	}
	if !rec.CheckOut.Equal(rec.UpdatedAt) {
		t.Fatalf("checkOut %v and updatedAt %v should match", rec.CheckOut, rec.UpdatedAt)
	}

	err := (Patch{CheckOut: true, RequireOpen: true, At: t0.Add(time.Hour)}).Apply(&rec)
	if !errors.Is(err, ErrAlreadyCheckedOut) {
		t.Fatalf("expected ErrAlreadyCheckedOut, got %v", err)
	}

	prev := rec.UpdatedAt
	later := t0.Add(2 * time.Hour)
	if err := (Patch{CheckOut: true, At: later}).Apply(&rec); err != nil {
		t.Fatalf("overwrite apply: %v", err)
	}
	if !rec.CheckOut.Equal(later) || !rec.UpdatedAt.After(prev) {
		t.Fatalf("expected overwrite to restamp, got %v / %v", rec.CheckOut, rec.UpdatedAt)
	}

	art := "data:image/png;base64,QQ=="
	if err := (Patch{Artifact: &art, At: t0}).Apply(&rec); err != nil {
		t.Fatalf("artifact apply: %v", err)
	}
	if rec.Artifact != art || !rec.UpdatedAt.After(later) {
		t.Fatalf("artifact patch should refresh updatedAt monotonically: %+v", rec)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	at := time.Now()
	rec := Record{Code: "222222", CheckOut: &at, Extra: map[string]any{"a": 1}}
	cp := rec.Clone()
	cp.Extra["a"] = 2
	*cp.CheckOut = at.Add(time.Hour)
	if rec.Extra["a"] != 1 || !rec.CheckOut.Equal(at) {
		t.Fatalf("clone shares state with the source record")
	}
}
