package drive_test

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/search"
	"github.com/whrgg/cloud-drive-project/internal/testutil"
)

func TestUpload_RelativeDirCreatesFolders(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	data := "nested upload"

	n, err := env.Service.Upload(ctx, drive.UploadRequest{
		Owner:       alice,
		ParentID:    drive.RootID,
		RelativeDir: "photos/2024",
		Name:        "beach.jpg",
		Hash:        testutil.MD5Hex([]byte(data)),
		Size:        int64(len(data)),
		Body:        strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if n.MediaType != "image/jpeg" {
		t.Errorf("MediaType = %q, want image/jpeg", n.MediaType)
	}

	path, err := env.Service.Tree.ResolvePath(ctx, n.ID, alice)
	if err != nil {
		t.Fatalf("ResolvePath() error = %v", err)
	}
	var got []string
	for _, p := range path {
		got = append(got, p.Name)
	}
	if !reflect.DeepEqual(got, []string{"photos", "2024", "beach.jpg"}) {
		t.Errorf("ResolvePath() = %v", got)
	}
}

func TestUpload_Rejections(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	upload(t, env, alice, drive.RootID, "a.txt", "a")

	tests := []struct {
		name string
		req  drive.UploadRequest
		want error
	}{
		{"empty hash", drive.UploadRequest{Owner: alice, Name: "x", Body: strings.NewReader("x")}, drive.ErrInvalidArgument},
		{"negative size", drive.UploadRequest{Owner: alice, Name: "x", Hash: "h", Size: -1}, drive.ErrInvalidArgument},
		{"name taken", drive.UploadRequest{Owner: alice, Name: "a.txt", Hash: "h", Size: 1, Body: strings.NewReader("b")}, drive.ErrNameConflict},
		{"bad name", drive.UploadRequest{Owner: alice, Name: "a/b", Hash: "h", Size: 1, Body: strings.NewReader("b")}, drive.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Service.Upload(ctx, tt.req)
			wantErr(t, err, tt.want)
		})
	}
}

func TestUpload_BackendFailure(t *testing.T) {
	env := newEnv(t)
	env.Blobs.FailPut(true)
	data := "never stored"

	_, err := env.Service.Upload(context.Background(), drive.UploadRequest{
		Owner: alice, Name: "f", Hash: testutil.MD5Hex([]byte(data)), Size: int64(len(data)), Body: strings.NewReader(data),
	})
	wantErr(t, err, drive.ErrBackend)
	if got := used(t, env, alice); got != 0 {
		t.Errorf("Used = %d, want 0", got)
	}
}

func TestUpload_FailureLeavesNoNewFolders(t *testing.T) {
	ctx := context.Background()
	data := "0123456789abc"
	req := func(dir string) drive.UploadRequest {
		return drive.UploadRequest{
			Owner: alice, RelativeDir: dir, Name: "f.bin",
			Hash: testutil.MD5Hex([]byte(data)), Size: int64(len(data)), Body: strings.NewReader(data),
		}
	}
	list := func(t *testing.T, env *testutil.Env, parent int64) []string {
		t.Helper()
		nodes, err := env.Service.Tree.List(ctx, alice, parent)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		return names(nodes)
	}

	t.Run("quota exceeded", func(t *testing.T) {
		env := testutil.NewEnv(t, drive.Options{DefaultQuota: 10})
		_, err := env.Service.Upload(ctx, req("a/b"))
		wantErr(t, err, drive.ErrQuotaExceeded)
		if got := list(t, env, drive.RootID); len(got) != 0 {
			t.Errorf("root = %v, want empty", got)
		}
	})

	t.Run("name taken in existing folder", func(t *testing.T) {
		env := newEnv(t)
		first, err := env.Service.Upload(ctx, req("x/y"))
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		_, err = env.Service.Upload(ctx, req("x/y"))
		wantErr(t, err, drive.ErrNameConflict)
		if got := list(t, env, first.ParentID); !reflect.DeepEqual(got, []string{"f.bin"}) {
			t.Errorf("x/y = %v, want [f.bin]", got)
		}
		if got := list(t, env, drive.RootID); !reflect.DeepEqual(got, []string{"x"}) {
			t.Errorf("root = %v, want [x]", got)
		}
	})

	t.Run("blob write fails", func(t *testing.T) {
		env := newEnv(t)
		keep := mkdir(t, env, alice, drive.RootID, "keep")
		upload(t, env, alice, keep.ID, "old.txt", "old")

		env.Blobs.FailPut(true)
		_, err := env.Service.Upload(ctx, req("keep/new/deeper"))
		wantErr(t, err, drive.ErrBackend)
		if got := list(t, env, keep.ID); !reflect.DeepEqual(got, []string{"old.txt"}) {
			t.Errorf("keep = %v, want [old.txt]", got)
		}
		if got := used(t, env, alice); got != 3 {
			t.Errorf("Used = %d, want 3", got)
		}
	})
}

func TestOpen(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	f := upload(t, env, alice, drive.RootID, "hello.txt", "hello world")
	d := mkdir(t, env, alice, drive.RootID, "d")

	rc, n, err := env.Service.Open(ctx, alice, f.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "hello world" || n.Name != "hello.txt" {
		t.Errorf("Open() = %q, %q", body, n.Name)
	}

	_, _, err = env.Service.Open(ctx, bob, f.ID)
	wantErr(t, err, drive.ErrNotFound)
	_, _, err = env.Service.Open(ctx, alice, d.ID)
	wantErr(t, err, drive.ErrInvalidArgument)

	if err := env.Service.Tree.Delete(ctx, f.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, _, err = env.Service.Open(ctx, alice, f.ID)
	wantErr(t, err, drive.ErrNotFound)
}

func TestDownloadURL_CountsDownloads(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	f := upload(t, env, alice, drive.RootID, "hello.txt", "hello")

	for i := 0; i < 3; i++ {
		url, err := env.Service.DownloadURL(ctx, alice, f.ID, time.Minute)
		if err != nil {
			t.Fatalf("DownloadURL() error = %v", err)
		}
		if !strings.Contains(url, "token=") {
			t.Errorf("DownloadURL() = %q, want a signed URL", url)
		}
	}
	n, err := env.Service.Tree.Get(ctx, f.ID, alice)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n.Downloads != 3 {
		t.Errorf("Downloads = %d, want 3", n.Downloads)
	}
}

func TestSearch(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	upload(t, env, alice, drive.RootID, "Holiday-2024.jpg", "h1")
	upload(t, env, alice, drive.RootID, "notes.txt", "n")
	gone := upload(t, env, alice, drive.RootID, "holiday-old.jpg", "h2")
	upload(t, env, bob, drive.RootID, "holiday.jpg", "h3")
	if err := env.Service.Tree.Delete(ctx, gone.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	hits, err := env.Service.Search(ctx, alice, "HOLIDAY", env.Publisher.Index)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := names(hits); !reflect.DeepEqual(got, []string{"Holiday-2024.jpg"}) {
		t.Errorf("Search() = %v, want [Holiday-2024.jpg]", got)
	}
}

func TestRebuildIndex(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	mkdir(t, env, alice, drive.RootID, "reports")
	upload(t, env, alice, drive.RootID, "report-q1.pdf", "q1")
	upload(t, env, bob, drive.RootID, "report-bob.pdf", "bob")

	fresh := search.NewMemoryIndex()
	n, err := env.Service.RebuildIndex(ctx, alice, fresh)
	if err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RebuildIndex() = %d, want 2", n)
	}

	hits, err := env.Service.Search(ctx, alice, "report", fresh)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := names(hits); !reflect.DeepEqual(got, []string{"reports", "report-q1.pdf"}) {
		t.Errorf("Search() = %v", got)
	}
}
