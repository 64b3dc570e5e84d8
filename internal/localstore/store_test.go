package localstore

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetMissing(t *testing.T) {
	db := testDB(t)
	v, ok, err := db.Get("accessToken")
	if err != nil || ok || v != "" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestSetOverwrites(t *testing.T) {
	db := testDB(t)
	if err := db.Set("accessToken", "one"); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("accessToken", "two"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get("accessToken")
	if err != nil || !ok || v != "two" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestSetManyAndDelete(t *testing.T) {
	db := testDB(t)
	if err := db.SetMany(map[string]string{"accessToken": "t", "user": `{"uid":"u1"}`}); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete("accessToken", "user", "missing"); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"accessToken", "user"} {
		if _, ok, _ := db.Get(k); ok {
			t.Errorf("%s still present", k)
		}
	}
}

func TestReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Set("user", "x"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if v, ok, _ := db.Get("user"); !ok || v != "x" {
		t.Errorf("after reopen Get = %q, %v", v, ok)
	}
}

func TestUploads(t *testing.T) {
	db := testDB(t)
	if _, ok, err := db.GetUpload("a.txt"); err != nil || ok {
		t.Fatalf("GetUpload missing = %v, %v", ok, err)
	}
	if err := db.PutUpload(Upload{Path: "b.txt", Checksum: "c1", TemplateID: "7"}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutUpload(Upload{Path: "a.txt", Checksum: "c2", TemplateID: "8"}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutUpload(Upload{Path: "b.txt", Checksum: "c3", TemplateID: "9"}); err != nil {
		t.Fatal(err)
	}

	u, ok, err := db.GetUpload("b.txt")
	if err != nil || !ok {
		t.Fatalf("GetUpload = %v, %v", ok, err)
	}
	if u.Checksum != "c3" || u.TemplateID != "9" || u.UploadedAt.IsZero() {
		t.Errorf("upload = %+v", u)
	}

	all, err := db.Uploads()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Path != "a.txt" {
		t.Errorf("uploads = %+v", all)
	}

	if err := db.DeleteUpload("a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetUpload("a.txt"); ok {
		t.Error("upload not deleted")
	}
}
