package drive_test

import (
	"context"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/testutil"
)

// shareFixture is alice's tree:
//
//	A/
//	  B/
//	    C/
//	      deep.txt
//	  a.txt
//	S/
//	  s.txt
type shareFixture struct {
	env               *testutil.Env
	a, b, c, s        *drive.Node
	deep, aFile, sTxt *drive.Node
}

func newShareFixture(t *testing.T) *shareFixture {
	t.Helper()
	env := newEnv(t)
	f := &shareFixture{env: env}
	f.a = mkdir(t, env, alice, drive.RootID, "A")
	f.b = mkdir(t, env, alice, f.a.ID, "B")
	f.c = mkdir(t, env, alice, f.b.ID, "C")
	f.deep = upload(t, env, alice, f.c.ID, "deep.txt", "deep content")
	f.aFile = upload(t, env, alice, f.a.ID, "a.txt", "a content")
	f.s = mkdir(t, env, alice, drive.RootID, "S")
	f.sTxt = upload(t, env, alice, f.s.ID, "s.txt", "sibling content")
	return f
}

func (f *shareFixture) share(t *testing.T, root int64, opts drive.ShareOptions) *drive.Share {
	t.Helper()
	sh, err := f.env.Service.Shares.CreateShare(context.Background(), alice, root, opts)
	if err != nil {
		t.Fatalf("CreateShare() error = %v", err)
	}
	return sh
}

func TestContainment(t *testing.T) {
	f := newShareFixture(t)
	tests := []struct {
		name         string
		node, root   int64
		wantContains bool
	}{
		{"self", f.a.ID, f.a.ID, true},
		{"child", f.b.ID, f.a.ID, true},
		{"grandchild file", f.deep.ID, f.a.ID, true},
		{"sibling folder", f.s.ID, f.a.ID, false},
		{"file under sibling", f.sTxt.ID, f.a.ID, false},
		{"ancestor", f.a.ID, f.c.ID, false},
		{"missing node", 9999, f.a.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.env.Service.Shares.Containment(context.Background(), tt.node, tt.root)
			if err != nil {
				t.Fatalf("Containment() error = %v", err)
			}
			if got != tt.wantContains {
				t.Errorf("Containment(%d, %d) = %v, want %v", tt.node, tt.root, got, tt.wantContains)
			}
		})
	}
}

func TestListShared(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})

	root, err := f.env.Service.Shares.ListShared(ctx, sh, drive.RootID)
	if err != nil {
		t.Fatalf("ListShared(root) error = %v", err)
	}
	if got := names(root); !reflect.DeepEqual(got, []string{"B", "a.txt"}) {
		t.Errorf("ListShared(root) = %v, want [B a.txt]", got)
	}

	nested, err := f.env.Service.Shares.ListShared(ctx, sh, f.c.ID)
	if err != nil {
		t.Fatalf("ListShared(C) error = %v", err)
	}
	if got := names(nested); !reflect.DeepEqual(got, []string{"deep.txt"}) {
		t.Errorf("ListShared(C) = %v, want [deep.txt]", got)
	}

	_, err = f.env.Service.Shares.ListShared(ctx, sh, f.s.ID)
	wantErr(t, err, drive.ErrPermissionDenied)
}

func TestListShared_FileShareListsItself(t *testing.T) {
	f := newShareFixture(t)
	sh := f.share(t, f.aFile.ID, drive.ShareOptions{})

	got, err := f.env.Service.Shares.ListShared(context.Background(), sh, drive.RootID)
	if err != nil {
		t.Fatalf("ListShared() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != f.aFile.ID {
		t.Errorf("ListShared() = %v, want the shared file", names(got))
	}
}

func TestListShared_HidesTrashedChildren(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})
	if err := f.env.Service.Tree.Delete(ctx, f.aFile.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := f.env.Service.Shares.ListShared(ctx, sh, drive.RootID)
	if err != nil {
		t.Fatalf("ListShared() error = %v", err)
	}
	if !reflect.DeepEqual(names(got), []string{"B"}) {
		t.Errorf("ListShared() = %v, want [B]", names(got))
	}
}

func TestCreateShare(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()

	open := f.share(t, f.a.ID, drive.ShareOptions{})
	if open.Code == "" || open.ExtractionCode != "" || open.ExpiresAt.Valid {
		t.Errorf("CreateShare() = %+v, want a code only", open)
	}

	gated := f.share(t, f.a.ID, drive.ShareOptions{RequireExtraction: true, ExpireDays: 7})
	if !regexp.MustCompile(`^[0-9]{4}$`).MatchString(gated.ExtractionCode) {
		t.Errorf("ExtractionCode = %q, want four digits", gated.ExtractionCode)
	}
	if want := f.env.Clock.Now().AddDate(0, 0, 7); !gated.ExpiresAt.Time.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", gated.ExpiresAt.Time, want)
	}
	if gated.Code == open.Code {
		t.Error("two shares got the same code")
	}

	fixed := f.share(t, f.b.ID, drive.ShareOptions{ExtractionCode: "ab12"})
	if fixed.ExtractionCode != "ab12" {
		t.Errorf("ExtractionCode = %q, want ab12", fixed.ExtractionCode)
	}

	_, err := f.env.Service.Shares.CreateShare(ctx, bob, f.a.ID, drive.ShareOptions{})
	wantErr(t, err, drive.ErrNotFound)

	if err := f.env.Service.Tree.Delete(ctx, f.s.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = f.env.Service.Shares.CreateShare(ctx, alice, f.s.ID, drive.ShareOptions{})
	wantErr(t, err, drive.ErrNotFound)
}

func TestCreateShare_CodeCollisionGivesUp(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	svc := drive.NewService(env.DB, env.Blobs, nil, nil, drive.NewNopLogger(), env.Clock,
		testutil.RepeatingIDGenerator{ID: "samecode"}, drive.Options{DefaultQuota: testutil.DefaultTestQuota})
	d, err := svc.Tree.Mkdir(ctx, alice, drive.RootID, "d")
	if err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	first, err := svc.Shares.CreateShare(ctx, alice, d.ID, drive.ShareOptions{})
	if err != nil {
		t.Fatalf("first CreateShare() error = %v", err)
	}
	if first.Code != "samecode" {
		t.Errorf("Code = %q, want samecode", first.Code)
	}

	_, err = svc.Shares.CreateShare(ctx, alice, d.ID, drive.ShareOptions{})
	wantErr(t, err, drive.ErrNameConflict)
}

func TestOpen_ExtractionCodeAndViews(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{ExtractionCode: "1234"})

	_, err := f.env.Service.Shares.Open(ctx, sh.Code, "9999")
	wantErr(t, err, drive.ErrPermissionDenied)
	_, err = f.env.Service.Shares.Open(ctx, sh.Code, "")
	wantErr(t, err, drive.ErrPermissionDenied)

	for i := 0; i < 2; i++ {
		if _, err := f.env.Service.Shares.Open(ctx, sh.Code, "1234"); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
	}
	got, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if got.Views != 2 {
		t.Errorf("Views = %d, want 2", got.Views)
	}

	_, err = f.env.Service.Shares.Open(ctx, "nope", "")
	wantErr(t, err, drive.ErrNotFound)
}

func TestResolveShare_Expiry(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{ExpireDays: 1})
	forever := f.share(t, f.b.ID, drive.ShareOptions{})

	f.env.Clock.Advance(23 * time.Hour)
	if _, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code); err != nil {
		t.Fatalf("ResolveShare() before expiry error = %v", err)
	}

	f.env.Clock.Advance(2 * time.Hour)
	_, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code)
	wantErr(t, err, drive.ErrNotFound)

	f.env.Clock.Advance(365 * 24 * time.Hour)
	if _, err := f.env.Service.Shares.ResolveShare(ctx, forever.Code); err != nil {
		t.Errorf("ResolveShare() of a share without expiry error = %v", err)
	}

	shares, err := f.env.Service.Shares.ListShares(ctx, alice)
	if err != nil {
		t.Fatalf("ListShares() error = %v", err)
	}
	if len(shares) != 1 || shares[0].Code != forever.Code {
		t.Errorf("ListShares() returned %d shares, want only the unexpired one", len(shares))
	}
}

func TestCancelShare(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})

	wantErr(t, f.env.Service.Shares.CancelShare(ctx, bob, sh.ID), drive.ErrNotFound)
	wantErr(t, f.env.Service.Shares.CancelShare(ctx, alice, 9999), drive.ErrNotFound)

	for i := 0; i < 2; i++ {
		if err := f.env.Service.Shares.CancelShare(ctx, alice, sh.ID); err != nil {
			t.Fatalf("CancelShare() #%d error = %v", i+1, err)
		}
	}
	_, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code)
	wantErr(t, err, drive.ErrNotFound)

	shares, err := f.env.Service.Shares.ListShares(ctx, alice)
	if err != nil {
		t.Fatalf("ListShares() error = %v", err)
	}
	if len(shares) != 0 {
		t.Errorf("ListShares() = %d shares after cancel, want 0", len(shares))
	}
}

func TestSaveToDrive(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})
	gone := upload(t, f.env, alice, f.b.ID, "gone.txt", "trashed content")
	if err := f.env.Service.Tree.Delete(ctx, gone.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	inbox := mkdir(t, f.env, bob, drive.RootID, "inbox")

	saved, err := f.env.Service.Shares.SaveToDrive(ctx, sh, f.b.ID, inbox.ID, bob)
	if err != nil {
		t.Fatalf("SaveToDrive() error = %v", err)
	}
	if saved.OwnerID != bob || saved.ParentID != inbox.ID || saved.Name != "B" {
		t.Errorf("SaveToDrive() = %+v", saved)
	}
	if got := used(t, f.env, bob); got != int64(len("deep content")) {
		t.Errorf("bob Used = %d, want %d", got, len("deep content"))
	}
	if got := refs(t, f.env, "deep content"); got != 2 {
		t.Errorf("RefCount = %d, want 2", got)
	}
	trash, err := f.env.Service.Tree.ListTrash(ctx, bob)
	if err != nil {
		t.Fatalf("ListTrash() error = %v", err)
	}
	if len(trash) != 0 {
		t.Errorf("trashed nodes were saved: %v", names(trash))
	}

	_, err = f.env.Service.Shares.SaveToDrive(ctx, sh, f.sTxt.ID, inbox.ID, bob)
	wantErr(t, err, drive.ErrPermissionDenied)

	got, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if got.Saves != 1 {
		t.Errorf("Saves = %d, want 1", got.Saves)
	}
}

func TestSaveToDrive_QuotaChargedToSaver(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.aFile.ID, drive.ShareOptions{})
	if _, err := f.env.Service.Quota.SetTotal(ctx, bob, 3); err != nil {
		t.Fatalf("SetTotal() error = %v", err)
	}
	aliceBefore := used(t, f.env, alice)

	_, err := f.env.Service.Shares.SaveToDrive(ctx, sh, f.aFile.ID, drive.RootID, bob)
	wantErr(t, err, drive.ErrQuotaExceeded)
	if got := used(t, f.env, alice); got != aliceBefore {
		t.Errorf("alice Used changed to %d", got)
	}
}

func TestShareDownloadURL(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})

	url, err := f.env.Service.Shares.DownloadURL(ctx, sh, f.deep.ID, time.Hour)
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	if !strings.Contains(url, "token=") {
		t.Errorf("DownloadURL() = %q, want a signed URL", url)
	}

	_, err = f.env.Service.Shares.DownloadURL(ctx, sh, f.b.ID, time.Hour)
	wantErr(t, err, drive.ErrInvalidArgument)

	_, err = f.env.Service.Shares.DownloadURL(ctx, sh, f.sTxt.ID, time.Hour)
	wantErr(t, err, drive.ErrPermissionDenied)
}

func TestCancelShares(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	first := f.share(t, f.a.ID, drive.ShareOptions{})
	second := f.share(t, f.s.ID, drive.ShareOptions{})
	kept := f.share(t, f.b.ID, drive.ShareOptions{})

	_, err := f.env.Service.Shares.CancelShares(ctx, alice, []int64{first.ID, 9999})
	wantErr(t, err, drive.ErrNotFound)
	_, err = f.env.Service.Shares.CancelShares(ctx, bob, []int64{first.ID})
	wantErr(t, err, drive.ErrNotFound)
	if _, err := f.env.Service.Shares.ResolveShare(ctx, first.Code); err != nil {
		t.Fatalf("share cancelled by a rejected batch: %v", err)
	}
	_, err = f.env.Service.Shares.CancelShares(ctx, alice, nil)
	wantErr(t, err, drive.ErrInvalidArgument)

	n, err := f.env.Service.Shares.CancelShares(ctx, alice, []int64{first.ID, second.ID, first.ID})
	if err != nil {
		t.Fatalf("CancelShares() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CancelShares() = %d, want 2", n)
	}
	if n, err := f.env.Service.Shares.CancelShares(ctx, alice, []int64{first.ID}); err != nil || n != 0 {
		t.Errorf("CancelShares(again) = %d, %v, want 0, nil", n, err)
	}

	shares, err := f.env.Service.Shares.ListShares(ctx, alice)
	if err != nil {
		t.Fatalf("ListShares() error = %v", err)
	}
	if len(shares) != 1 || shares[0].ID != kept.ID {
		t.Errorf("ListShares() returned %d shares, want only the kept one", len(shares))
	}
}

func TestListShared_CountsViews(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})

	for _, folder := range []int64{drive.RootID, f.b.ID} {
		if _, err := f.env.Service.Shares.ListShared(ctx, sh, folder); err != nil {
			t.Fatalf("ListShared() error = %v", err)
		}
	}
	_, err := f.env.Service.Shares.ListShared(ctx, sh, f.s.ID)
	wantErr(t, err, drive.ErrPermissionDenied)

	got, err := f.env.Service.Shares.ResolveShare(ctx, sh.Code)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if got.Views != 2 {
		t.Errorf("Views = %d, want 2", got.Views)
	}
}

func TestSaveToDrive_NameTakenInTarget(t *testing.T) {
	f := newShareFixture(t)
	ctx := context.Background()
	sh := f.share(t, f.a.ID, drive.ShareOptions{})
	inbox := mkdir(t, f.env, bob, drive.RootID, "inbox")
	mine := upload(t, f.env, bob, inbox.ID, "a.txt", "bob's own a")

	saved, err := f.env.Service.Shares.SaveToDrive(ctx, sh, f.aFile.ID, inbox.ID, bob)
	if err != nil {
		t.Fatalf("SaveToDrive() error = %v", err)
	}
	if saved.Name != "a 副本(1).txt" || saved.OwnerID != bob {
		t.Errorf("SaveToDrive() = %q owned by %d, want %q owned by bob", saved.Name, saved.OwnerID, "a 副本(1).txt")
	}
	if saved.ContentID != f.aFile.ContentID {
		t.Errorf("saved content = %d, want shared %d", saved.ContentID, f.aFile.ContentID)
	}

	again, err := f.env.Service.Shares.SaveToDrive(ctx, sh, f.aFile.ID, inbox.ID, bob)
	if err != nil {
		t.Fatalf("second SaveToDrive() error = %v", err)
	}
	if again.Name != "a 副本(2).txt" {
		t.Errorf("second SaveToDrive() name = %q, want %q", again.Name, "a 副本(2).txt")
	}
	if got := state(t, f.env, mine.ID); got != drive.StateActive {
		t.Errorf("bob's own a.txt state = %v, want active", got)
	}
}
