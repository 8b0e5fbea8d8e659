package records

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wbtn/internal/convert"
	"wbtn/internal/fileutil"
	"wbtn/internal/pathmap"
	"wbtn/internal/testsupport"
)

func TestExtraFileAddPathRequiresTag(t *testing.T) {
	f := newFixture(t)
	if _, err := f.extras.AddPath(context.Background(), "notes.txt", convert.TagNone, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AddPath = %v, want ErrInvalidArgument", err)
	}
}

func TestExtraFileAddPathAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	notesPath := filepath.Join(f.baseDir, "notes.txt")
	testsupport.WriteFile(t, notesPath, []byte("author notes"))

	id, err := f.extras.AddPath(ctx, notesPath, convert.TagString, "notes")
	if err != nil {
		t.Fatalf("AddPath: %v", err)
	}
	rec, err := f.extras.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Inline() {
		t.Fatal("path-only extra file reports inline")
	}
	if rec.Path != notesPath || rec.Kind != "notes" || rec.Conversion != convert.TagString {
		t.Fatalf("unexpected row: %+v", rec)
	}

	byPath, err := f.extras.GetByPath(ctx, notesPath)
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if byPath.FileID != id {
		t.Fatalf("GetByPath id = %d, want %d", byPath.FileID, id)
	}
}

func TestExtraFilePathIsUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.extras.AddPath(ctx, "same.txt", convert.TagString, ""); err != nil {
		t.Fatalf("AddPath: %v", err)
	}
	if _, err := f.extras.AddPath(ctx, "same.txt", convert.TagString, ""); err == nil {
		t.Fatal("duplicate path succeeded")
	}
}

func TestExtraFileAddValueKeepsInlineCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.extras.AddValue(ctx, "meta.json", convert.String("inline"), "meta")
	if err != nil {
		t.Fatalf("AddValue: %v", err)
	}
	rec, err := f.extras.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Inline() {
		t.Fatal("AddValue row reports no inline payload")
	}
	mustEqual(t, rec.Value, convert.String("inline"))
	if rec.Path != filepath.Join(f.baseDir, "meta.json") {
		t.Fatalf("path = %q", rec.Path)
	}
}

func TestExtraFileAddPayloadCleansUpOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	path := filepath.Join(f.baseDir, "dup", "payload.txt")
	id, err := f.extras.AddPayload(ctx, path, convert.String("a"), "", true)
	if err != nil {
		t.Fatalf("AddPayload: %v", err)
	}
	// Reuse of the unique path makes the insert fail after the write; the
	// failed attempt removes its file.
	if _, err := f.extras.AddPayload(ctx, path, convert.String("b"), "", false); err == nil {
		t.Fatal("duplicate AddPayload succeeded")
	}
	if fileutil.Exists(path) {
		t.Fatal("payload file left behind by the failed insert")
	}
	// The first row survives.
	if _, err := f.extras.Get(ctx, id); err != nil {
		t.Fatalf("Get after failed duplicate: %v", err)
	}
	count, err := f.extras.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 1 {
		t.Fatalf("Len = %d, want 1", count)
	}
}

func TestExtraFileAddPayloadSelfContainedFailsBeforeWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opts := pathmap.DefaultOptions()
	opts.SelfContained = true
	paths := pathmap.New(opts, f.baseDir, nil)
	extras := NewExtraFileManager(f.conn, &convert.Codec{Paths: paths}, paths)

	payloadPath := filepath.Join(f.baseDir, "never.txt")
	_, err := extras.AddPayload(ctx, payloadPath, convert.String("v"), "", false)
	if !errors.Is(err, pathmap.ErrSelfContained) {
		t.Fatalf("AddPayload = %v, want ErrSelfContained", err)
	}
	if fileutil.Exists(payloadPath) {
		t.Fatal("self-contained payload written to disk")
	}

	count, err := extras.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 0 {
		t.Fatalf("Len = %d, want 0", count)
	}
}

func TestExtraFileMaterializeAndSpill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	path := filepath.Join(f.baseDir, "counter.txt")
	id, err := f.extras.AddPayload(ctx, path, convert.Int(7), "counter", false)
	if err != nil {
		t.Fatalf("AddPayload: %v", err)
	}

	h := f.extras.Handle(id)
	value, err := f.extras.Materialize(ctx, h, true)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	mustEqual(t, value, convert.Int(7))

	rec, err := f.extras.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Inline() {
		t.Fatal("persisting materialize did not move the value inline")
	}
	if rec.Path != path {
		t.Fatal("materialize lost the identifying path")
	}

	spilled, err := f.extras.Spill(ctx, f.extras.Handle(id), false)
	if err != nil {
		t.Fatalf("Spill: %v", err)
	}
	if spilled != path {
		t.Fatalf("Spill = %q, want %q", spilled, path)
	}
	rec, err = f.extras.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Inline() {
		t.Fatal("spill left an inline copy")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read spilled: %v", err)
	}
	if string(data) != "7" {
		t.Fatalf("spilled payload = %q, want 7", data)
	}
}

func TestExtraFileUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.extras.AddPath(ctx, "a.txt", convert.TagString, "")
	if err != nil {
		t.Fatalf("AddPath: %v", err)
	}

	if err := f.extras.Update(ctx, id, ExtraFileUpdate{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty Update = %v, want ErrInvalidArgument", err)
	}
	if err := f.extras.Update(ctx, id, ExtraFileUpdate{Path: "b.txt"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("untagged path Update = %v, want ErrInvalidArgument", err)
	}
	if err := f.extras.Update(ctx, id, ExtraFileUpdate{Path: "b.txt", Conversion: convert.TagBytes}); err != nil {
		t.Fatalf("path Update: %v", err)
	}
	rec, err := f.extras.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Path != filepath.Join(f.baseDir, "b.txt") || rec.Conversion != convert.TagBytes {
		t.Fatalf("unexpected row after update: %+v", rec)
	}

	if err := f.extras.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.extras.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestExtraFileIterate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, tc := range []struct {
		path string
		kind string
	}{{"a.txt", "notes"}, {"b.txt", "notes"}, {"c.txt", "cover"}} {
		if _, err := f.extras.AddPath(ctx, tc.path, convert.TagString, tc.kind); err != nil {
			t.Fatalf("AddPath %d: %v", i, err)
		}
	}

	all, err := f.extras.Iterate(ctx, nil)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered count = %d, want 3", len(all))
	}

	kind := "notes"
	notes, err := f.extras.Iterate(ctx, &kind)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("notes count = %d, want 2", len(notes))
	}

	count, err := f.extras.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 3 {
		t.Fatalf("Len = %d, want 3", count)
	}
}
