package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignSortsAndExcludes(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "100",
		"api_key":   "key",
		"folder":    "reports",
		"empty":     "",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=reports&timestamp=100secret")))
	if got != want {
		t.Fatalf("sign() = %s, want %s", got, want)
	}
}

func TestUploadRaw(t *testing.T) {
	var gotPath, gotFolder, gotPublicID, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotFolder = r.FormValue("folder")
		gotPublicID = r.FormValue("public_id")
		f, _, err := r.FormFile("file")
		if err == nil {
			b, _ := io.ReadAll(f)
			gotFile = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"public_id":"attendance-reports/Attendance_Report_2026-03-02.xlsx","secure_url":"https://res.example/r.xlsx","resource_type":"raw","bytes":4}`)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "attendance-reports")
	c.BaseURL = srv.URL
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadRaw(context.Background(), []byte("xlsx"), "Attendance_Report_2026-03-02.xlsx")
	if err != nil {
		t.Fatalf("UploadRaw() error: %v", err)
	}
	if gotPath != "/demo/raw/upload" {
		t.Fatalf("path = %q, want /demo/raw/upload", gotPath)
	}
	if gotFolder != "attendance-reports" || gotFile != "xlsx" {
		t.Fatalf("form folder=%q file=%q", gotFolder, gotFile)
	}
	if gotPublicID != "Attendance_Report_2026-03-02.xlsx" {
		t.Fatalf("public_id = %q, want the full filename", gotPublicID)
	}
	if res.SecureURL != "https://res.example/r.xlsx" || res.ResourceType != "raw" {
		t.Fatalf("result = %+v", res)
	}
}

func TestUploadRawError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	if _, err := c.UploadRaw(context.Background(), []byte("x"), "r.xlsx"); err == nil {
		t.Fatal("UploadRaw() error = nil, want upload failure")
	}
}
