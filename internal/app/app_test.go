package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/whrgg/cloud-drive-project/internal/config"
	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/testutil"
)

const owner = int64(1)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(dir)
	cfg.Search = config.SearchConfig{Type: "memory"}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Metrics = config.MetricsConfig{Enabled: true, TextfilePath: filepath.Join(dir, "drive.prom")}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *DriveApp {
	t.Helper()
	a, err := NewDriveApp(context.Background(), cfg, operation, Options{
		Stderr: io.Discard,
		Clock:  testutil.FixedClock(),
		IDs:    testutil.NewStubIDGenerator(),
	})
	if err != nil {
		t.Fatalf("NewDriveApp() error = %v", err)
	}
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func childNames(t *testing.T, a *DriveApp, parent int64) map[string]*drive.Node {
	t.Helper()
	nodes, err := a.Service().Tree.List(context.Background(), owner, parent)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	out := make(map[string]*drive.Node, len(nodes))
	for _, n := range nodes {
		out[n.Name] = n
	}
	return out
}

func TestDriveApp_OperationJournal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a := newTestApp(t, cfg, "Mkdir")
	if err := a.Record(ctx, "photos/2024"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := a.Mkdir(ctx, owner, "photos/2024"); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "Rename")
	if err := b.Record(ctx, "1 x"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	boom := errors.New("boom")
	if err := b.Fail(boom); !errors.Is(err, boom) {
		t.Errorf("Fail() = %v, want boom", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c := newTestApp(t, cfg, "History")
	defer c.Close(ctx)
	ops, err := c.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(ops))
	}
	statuses := map[string]string{}
	for _, op := range ops {
		statuses[op.Name] = op.Status
	}
	if statuses["Mkdir"] != StatusSuccess || statuses["Rename"] != StatusError {
		t.Errorf("statuses = %v", statuses)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFile))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "operation failed") {
		t.Error("log is missing the failed operation")
	}
}

func TestDriveApp_Check(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t), "Check")
	defer a.Close(ctx)

	if err := a.Check(ctx); err != nil {
		t.Errorf("Check() error = %v", err)
	}
}

func TestDriveApp_Upload(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "docs")
	writeFile(t, filepath.Join(local, "a.txt"), "hello")
	writeFile(t, filepath.Join(local, "b.txt"), "hi")
	writeFile(t, filepath.Join(local, "sub", "c.txt"), "0123456789")
	writeFile(t, filepath.Join(local, ".git", "HEAD"), "ref")

	a := newTestApp(t, testConfig(t), "Upload")
	defer a.Close(ctx)

	report, err := a.Upload(ctx, owner, local, UploadOptions{Recursive: true, ChunkSize: 4})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	want := UploadReport{Files: 3, Chunked: 2, Bytes: 17}
	if report != want {
		t.Errorf("Upload() = %+v, want %+v", report, want)
	}

	root := childNames(t, a, drive.RootID)
	docs, ok := root["docs"]
	if !ok || !docs.IsDir {
		t.Fatalf("root children = %v, want folder docs", root)
	}
	inDocs := childNames(t, a, docs.ID)
	for _, name := range []string{"a.txt", "b.txt", "sub"} {
		if _, ok := inDocs[name]; !ok {
			t.Errorf("docs is missing %s", name)
		}
	}
	if _, ok := inDocs[".git"]; ok {
		t.Error("ignored .git folder was uploaded")
	}

	rc, _, err := a.Service().Open(ctx, owner, inDocs["a.txt"].ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "hello" {
		t.Errorf("a.txt = %q, want hello", got)
	}

	copyID, err := a.Mkdir(ctx, owner, "copy")
	if err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	report, err = a.Upload(ctx, owner, local, UploadOptions{ParentID: copyID, Recursive: true, ChunkSize: 4})
	if err != nil {
		t.Fatalf("second Upload() error = %v", err)
	}
	if report.Instant != 2 || report.Files != 3 {
		t.Errorf("second Upload() = %+v, want 3 files with 2 instant", report)
	}

	q, err := a.Service().Quota.Usage(ctx, owner)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if q.Used != 34 {
		t.Errorf("Used = %d, want 34", q.Used)
	}
}

func TestDriveApp_UploadTopLevelOnly(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "music")
	writeFile(t, filepath.Join(local, "song.mp3"), "la la")
	writeFile(t, filepath.Join(local, "live", "encore.mp3"), "la")

	a := newTestApp(t, testConfig(t), "Upload")
	defer a.Close(ctx)

	report, err := a.Upload(ctx, owner, local, UploadOptions{})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if report.Files != 1 || report.Chunked != 0 {
		t.Errorf("Upload() = %+v, want one whole file", report)
	}
}

func TestDriveApp_UploadOverQuotaLeavesNoFolders(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "backup")
	writeFile(t, filepath.Join(local, "deep", "er", "big.bin"), "0123456789")

	cfg := testConfig(t)
	cfg.Quota.DefaultTotal = 5
	a := newTestApp(t, cfg, "Upload")
	defer a.Close(ctx)

	_, err := a.Upload(ctx, owner, local, UploadOptions{Recursive: true})
	if !errors.Is(err, drive.ErrQuotaExceeded) {
		t.Fatalf("Upload() error = %v, want ErrQuotaExceeded", err)
	}
	if root := childNames(t, a, drive.RootID); len(root) != 0 {
		t.Errorf("root children = %v, want none", root)
	}
}

func TestDriveApp_Search(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "Holiday Photos.zip")
	writeFile(t, local, "zip")

	a := newTestApp(t, testConfig(t), "Search")
	defer a.Close(ctx)

	if _, err := a.Upload(ctx, owner, local, UploadOptions{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	hits, err := a.Search(ctx, owner, "holiday")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "Holiday Photos.zip" {
		t.Errorf("Search() = %v, want the uploaded file", hits)
	}

	n, err := a.RebuildIndex(ctx, owner)
	if err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RebuildIndex() = %d, want 1", n)
	}
}

func TestDriveApp_SearchDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Search = config.SearchConfig{Type: "none"}

	a := newTestApp(t, cfg, "Search")
	defer a.Close(ctx)

	if _, err := a.Search(ctx, owner, "x"); !errors.Is(err, ErrSearchDisabled) {
		t.Errorf("Search() error = %v, want ErrSearchDisabled", err)
	}
	if _, err := a.RebuildIndex(ctx, owner); !errors.Is(err, ErrSearchDisabled) {
		t.Errorf("RebuildIndex() error = %v, want ErrSearchDisabled", err)
	}
}

func TestDriveApp_MetricsTextfile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	local := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, local, "notes")

	a := newTestApp(t, cfg, "Upload")
	if _, err := a.Upload(ctx, owner, local, UploadOptions{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	if !strings.Contains(string(data), "drive_content_bytes_stored_total 5") {
		t.Errorf("textfile =\n%s", data)
	}
}

func TestDriveApp_SharedDownloads(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "report.pdf")
	writeFile(t, local, "pdf")

	a := newTestApp(t, testConfig(t), "Share")
	defer a.Close(ctx)

	if _, err := a.Upload(ctx, owner, local, UploadOptions{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	file := childNames(t, a, drive.RootID)["report.pdf"]
	share, err := a.Service().Shares.CreateShare(ctx, owner, file.ID, drive.ShareOptions{RequireExtraction: true})
	if err != nil {
		t.Fatalf("CreateShare() error = %v", err)
	}

	if _, err := a.ShareDownloadURL(ctx, share.Code, share.ExtractionCode, file.ID); err != nil {
		t.Errorf("ShareDownloadURL() error = %v", err)
	}
	if _, err := a.ShareDownloadURL(ctx, share.Code, "nope", file.ID); !errors.Is(err, drive.ErrPermissionDenied) {
		t.Errorf("ShareDownloadURL(wrong code) error = %v, want ErrPermissionDenied", err)
	}

	saved, err := a.SaveShared(ctx, share.Code, share.ExtractionCode, file.ID, drive.RootID, 2)
	if err != nil {
		t.Fatalf("SaveShared() error = %v", err)
	}
	if saved.OwnerID != 2 || saved.Name != "report.pdf" {
		t.Errorf("SaveShared() = %+v", saved)
	}
	if _, err := a.DownloadURL(ctx, 2, saved.ID); err != nil {
		t.Errorf("DownloadURL() error = %v", err)
	}
}
