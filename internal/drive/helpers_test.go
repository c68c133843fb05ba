package drive_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/testutil"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

func newEnv(t *testing.T) *testutil.Env {
	t.Helper()
	return testutil.NewEnv(t, drive.Options{})
}

func upload(t *testing.T, env *testutil.Env, owner, parent int64, name, data string) *drive.Node {
	t.Helper()
	n, err := env.Service.Upload(context.Background(), drive.UploadRequest{
		Owner:    owner,
		ParentID: parent,
		Name:     name,
		Hash:     testutil.MD5Hex([]byte(data)),
		Size:     int64(len(data)),
		Body:     strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Upload(%q) error = %v", name, err)
	}
	return n
}

func mkdir(t *testing.T, env *testutil.Env, owner, parent int64, name string) *drive.Node {
	t.Helper()
	n, err := env.Service.Tree.Mkdir(context.Background(), owner, parent, name)
	if err != nil {
		t.Fatalf("Mkdir(%q) error = %v", name, err)
	}
	return n
}

func used(t *testing.T, env *testutil.Env, owner int64) int64 {
	t.Helper()
	q, err := env.Service.Quota.Get(context.Background(), owner)
	if err != nil {
		t.Fatalf("Quota.Get() error = %v", err)
	}
	return q.Used
}

// refs returns the reference count of the content for data, or 0 if it is
// not registered.
func refs(t *testing.T, env *testutil.Env, data string) int64 {
	t.Helper()
	c, err := env.Service.Registry.Lookup(context.Background(), testutil.MD5Hex([]byte(data)))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if c == nil {
		return 0
	}
	return c.RefCount
}

// state returns the node's state, or -1 once its row is gone.
func state(t *testing.T, env *testutil.Env, id int64) drive.NodeState {
	t.Helper()
	n, err := env.DB.FindNode(context.Background(), id)
	if err != nil {
		t.Fatalf("FindNode(%d) error = %v", id, err)
	}
	if n == nil {
		return -1
	}
	return n.State
}

func names(nodes []*drive.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
