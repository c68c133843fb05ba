package drive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cristalhq/natsort"
	"github.com/samber/lo"
)

const (
	// DefaultBatchSize bounds how many rows a single cascade transaction touches.
	DefaultBatchSize = 500

	// maxCopySuffix bounds the "name 副本(n)" scan.
	maxCopySuffix = 10000

	maxNameLength = 255
)

// PurgeReport summarizes what a purge removed.
type PurgeReport struct {
	Nodes int
	Files int
	Bytes int64
}

func (r *PurgeReport) add(o PurgeReport) {
	r.Nodes += o.Nodes
	r.Files += o.Files
	r.Bytes += o.Bytes
}

// NamespaceTree is the per-owner file/folder graph with its soft-delete
// lifecycle. Cascades walk an explicit worklist and write in batches.
type NamespaceTree struct {
	database  Database
	registry  *ContentRegistry
	quota     *QuotaLedger
	publisher IndexPublisher
	logger    Logger
	clock     Clock
	metrics   Metrics
	batchSize int
}

// NewNamespaceTree creates a tree. batchSize <= 0 selects DefaultBatchSize.
func NewNamespaceTree(database Database, registry *ContentRegistry, quota *QuotaLedger, publisher IndexPublisher, logger Logger, clock Clock, metrics Metrics, batchSize int) *NamespaceTree {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &NamespaceTree{
		database:  database,
		registry:  registry,
		quota:     quota,
		publisher: publisher,
		logger:    logger,
		clock:     clock,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Get returns owner's node. Nodes of other owners read as not found.
func (t *NamespaceTree) Get(ctx context.Context, nodeID, owner int64) (*Node, error) {
	n, err := t.database.FindNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if n == nil || n.OwnerID != owner {
		return nil, fmt.Errorf("node %d: %w", nodeID, ErrNotFound)
	}
	return n, nil
}

// getLive is Get that also rejects nodes in the middle of a purge.
func (t *NamespaceTree) getLive(ctx context.Context, nodeID, owner int64) (*Node, error) {
	n, err := t.Get(ctx, nodeID, owner)
	if err != nil {
		return nil, err
	}
	if n.State == StatePurged {
		return nil, fmt.Errorf("node %d is purged: %w", nodeID, ErrInvalidTransition)
	}
	return n, nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("empty name: %w", ErrInvalidArgument)
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q: %w", name, ErrInvalidArgument)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("name %q contains a path separator: %w", name, ErrInvalidArgument)
	case len(name) > maxNameLength:
		return fmt.Errorf("name longer than %d bytes: %w", maxNameLength, ErrInvalidArgument)
	}
	return nil
}

// checkParent verifies parentID is the root or an active folder of owner.
func (t *NamespaceTree) checkParent(ctx context.Context, owner, parentID int64) error {
	if parentID == RootID {
		return nil
	}
	p, err := t.getLive(ctx, parentID, owner)
	if err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	if !p.IsDir {
		return fmt.Errorf("parent %d is not a folder: %w", parentID, ErrInvalidArgument)
	}
	if p.State != StateActive {
		return fmt.Errorf("parent %d is in trash: %w", parentID, ErrNotFound)
	}
	return nil
}

// checkCreate runs every validation that must pass before a node is created.
func (t *NamespaceTree) checkCreate(ctx context.Context, owner, parentID int64, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := t.checkParent(ctx, owner, parentID); err != nil {
		return err
	}
	return t.checkNameFree(ctx, owner, parentID, name)
}

func (t *NamespaceTree) checkNameFree(ctx context.Context, owner, parentID int64, name string) error {
	sibling, err := t.database.FindChildByName(ctx, owner, parentID, name)
	if err != nil {
		return fmt.Errorf("checking sibling names: %w", err)
	}
	if sibling != nil {
		return fmt.Errorf("%q already exists in folder %d: %w", name, parentID, ErrNameConflict)
	}
	return nil
}

// Create adds a node under parentID. A file node takes a new reference on
// contentID and charges its size to owner's quota.
func (t *NamespaceTree) Create(ctx context.Context, owner, parentID int64, name string, isDir bool, contentID int64) (*Node, error) {
	if isDir {
		if contentID != 0 {
			return nil, fmt.Errorf("folders cannot reference content: %w", ErrInvalidArgument)
		}
		return t.Mkdir(ctx, owner, parentID, name)
	}
	c, err := t.registry.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return t.link(ctx, owner, parentID, name, c)
}

// Mkdir creates an empty folder.
func (t *NamespaceTree) Mkdir(ctx context.Context, owner, parentID int64, name string) (*Node, error) {
	if err := t.checkCreate(ctx, owner, parentID, name); err != nil {
		return nil, err
	}
	now := t.clock.Now()
	n, err := t.database.CreateNode(ctx, &Node{
		OwnerID:   owner,
		ParentID:  parentID,
		Name:      name,
		IsDir:     true,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating folder: %w", err)
	}
	t.publisher.PublishIndex(n.Summary())
	t.logger.Info("folder created", "owner", owner, "id", n.ID, "name", name)
	return n, nil
}

// EnsurePath walks relPath below parentID, creating missing folders, and
// returns the id of the last one. A non-folder on the way is a name conflict.
func (t *NamespaceTree) EnsurePath(ctx context.Context, owner, parentID int64, relPath string) (int64, error) {
	id, _, err := t.BuildPath(ctx, owner, parentID, relPath)
	return id, err
}

// BuildPath is EnsurePath for callers that may still fail after the folders
// exist. undo removes the folders this call created, deepest first, skipping
// any that are no longer empty. On error nothing created is left behind.
func (t *NamespaceTree) BuildPath(ctx context.Context, owner, parentID int64, relPath string) (id int64, undo func(context.Context), err error) {
	var created []int64
	undo = func(ctx context.Context) { t.removeEmptyFolders(ctx, owner, created) }

	segments := strings.FieldsFunc(relPath, func(r rune) bool { return r == '/' || r == '\\' })
	current := parentID
	for _, seg := range segments {
		if seg == "." {
			continue
		}
		existing, err := t.database.FindChildByName(ctx, owner, current, seg)
		if err != nil {
			undo(ctx)
			return 0, nil, fmt.Errorf("looking up %q: %w", seg, err)
		}
		if existing != nil {
			if !existing.IsDir || existing.State != StateActive {
				undo(ctx)
				return 0, nil, fmt.Errorf("%q exists and is not an active folder: %w", seg, ErrNameConflict)
			}
			current = existing.ID
			continue
		}
		n, err := t.Mkdir(ctx, owner, current, seg)
		if err != nil {
			undo(ctx)
			return 0, nil, err
		}
		created = append(created, n.ID)
		current = n.ID
	}
	return current, undo, nil
}

// removeEmptyFolders deletes ids in reverse order until one has children.
func (t *NamespaceTree) removeEmptyFolders(ctx context.Context, owner int64, ids []int64) {
	for i := len(ids) - 1; i >= 0; i-- {
		children, err := t.database.ListChildren(ctx, owner, ids[i])
		if err != nil {
			t.logger.Warn("checking folder before removal failed", "id", ids[i], "error", err)
			return
		}
		if len(children) > 0 {
			return
		}
		if err := t.database.DeleteNodes(ctx, []int64{ids[i]}); err != nil {
			t.logger.Warn("removing unused folder failed", "id", ids[i], "error", err)
			return
		}
		t.publisher.PublishDelete(ids[i])
	}
}

// link checks, retains c and attaches a new file node for it.
func (t *NamespaceTree) link(ctx context.Context, owner, parentID int64, name string, c *Content) (*Node, error) {
	if err := t.checkCreate(ctx, owner, parentID, name); err != nil {
		return nil, err
	}
	if err := t.quota.Check(ctx, owner, c.Size); err != nil {
		return nil, err
	}
	if _, err := t.registry.Retain(ctx, c.ID); err != nil {
		return nil, err
	}
	return t.attach(ctx, owner, parentID, name, c)
}

// attach creates a file node for c, whose reference the caller already holds,
// and charges owner's quota. On failure the reference is released again.
func (t *NamespaceTree) attach(ctx context.Context, owner, parentID int64, name string, c *Content) (*Node, error) {
	now := t.clock.Now()
	n, err := t.database.CreateNode(ctx, &Node{
		OwnerID:   owner,
		ParentID:  parentID,
		Name:      name,
		ContentID: c.ID,
		Size:      c.Size,
		MediaType: c.MediaType,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.releaseQuietly(ctx, c.ID)
		return nil, fmt.Errorf("creating file node: %w", err)
	}

	if _, err := t.quota.Adjust(ctx, owner, c.Size); err != nil {
		if derr := t.database.DeleteNodes(ctx, []int64{n.ID}); derr != nil {
			t.logger.Error("removing node after quota failure", "id", n.ID, "error", derr)
		}
		t.releaseQuietly(ctx, c.ID)
		return nil, err
	}

	t.publisher.PublishIndex(n.Summary())
	t.logger.Info("file created", "owner", owner, "id", n.ID, "name", name, "size", c.Size, "hash", c.Hash)
	return n, nil
}

func (t *NamespaceTree) releaseQuietly(ctx context.Context, contentID int64) {
	if err := t.registry.Release(ctx, contentID); err != nil {
		t.logger.Error("releasing content during rollback", "content", contentID, "error", err)
	}
}

// Rename changes a node's name, rejecting collisions with its siblings.
func (t *NamespaceTree) Rename(ctx context.Context, nodeID int64, newName string, owner int64) (*Node, error) {
	n, err := t.getLive(ctx, nodeID, owner)
	if err != nil {
		return nil, err
	}
	if err := validateName(newName); err != nil {
		return nil, err
	}
	if newName == n.Name {
		return n, nil
	}
	if err := t.checkNameFree(ctx, owner, n.ParentID, newName); err != nil {
		return nil, err
	}

	now := t.clock.Now()
	if err := t.database.RenameNode(ctx, n.ID, newName, now); err != nil {
		return nil, fmt.Errorf("renaming node: %w", err)
	}
	n.Name = newName
	n.UpdatedAt = now
	if n.State == StateActive {
		t.publisher.PublishUpdate(n.Summary())
	}
	return n, nil
}

// Move reparents a node. Descendants follow through their parent pointers.
func (t *NamespaceTree) Move(ctx context.Context, nodeID, newParentID, owner int64) (*Node, error) {
	n, err := t.getLive(ctx, nodeID, owner)
	if err != nil {
		return nil, err
	}
	if newParentID == n.ParentID {
		return n, nil
	}
	if err := t.checkParent(ctx, owner, newParentID); err != nil {
		return nil, err
	}
	if n.IsDir {
		inside, err := t.contains(ctx, newParentID, n.ID)
		if err != nil {
			return nil, err
		}
		if inside {
			return nil, fmt.Errorf("cannot move folder %d into its own subtree: %w", n.ID, ErrInvalidArgument)
		}
	}
	if err := t.checkNameFree(ctx, owner, newParentID, n.Name); err != nil {
		return nil, err
	}

	now := t.clock.Now()
	if err := t.database.MoveNode(ctx, n.ID, newParentID, now); err != nil {
		return nil, fmt.Errorf("moving node: %w", err)
	}
	n.ParentID = newParentID
	n.UpdatedAt = now
	if n.State == StateActive {
		t.publisher.PublishUpdate(n.Summary())
	}
	return n, nil
}

// Copy deep-copies an active subtree into newParentID. File copies share
// content with their source; trashed descendants are copied in the trashed
// state.
func (t *NamespaceTree) Copy(ctx context.Context, nodeID, newParentID, owner int64) (*Node, error) {
	return t.copyTree(ctx, owner, nodeID, owner, newParentID, false)
}

// copyTree copies srcOwner's subtree rooted at nodeID under dstParent of
// dstOwner. The subtree is snapshotted before anything is written, so copying
// a folder into itself terminates.
func (t *NamespaceTree) copyTree(ctx context.Context, srcOwner, nodeID, dstOwner, dstParent int64, activeOnly bool) (*Node, error) {
	src, err := t.getLive(ctx, nodeID, srcOwner)
	if err != nil {
		return nil, err
	}
	if src.State != StateActive {
		return nil, fmt.Errorf("node %d is in trash: %w", nodeID, ErrNotFound)
	}
	if err := t.checkParent(ctx, dstOwner, dstParent); err != nil {
		return nil, err
	}

	plan, err := t.subtree(ctx, srcOwner, src, func(n *Node) bool {
		if n.State == StatePurged {
			return false
		}
		return !activeOnly || n.State == StateActive
	})
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range plan {
		if !n.IsDir {
			total += n.Size
		}
	}
	if err := t.quota.Check(ctx, dstOwner, total); err != nil {
		return nil, err
	}

	rootName, err := t.uniqueName(ctx, dstOwner, dstParent, src.Name, src.IsDir)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now()
	newIDs := make(map[int64]int64, len(plan))
	created := make([]*Node, 0, len(plan))
	var root *Node
	for _, n := range plan {
		parent, name := newIDs[n.ParentID], n.Name
		if n.ID == src.ID {
			parent, name = dstParent, rootName
		}
		if !n.IsDir {
			if _, err := t.registry.Retain(ctx, n.ContentID); err != nil {
				t.undoCopy(ctx, created)
				return nil, err
			}
		}
		cp, err := t.database.CreateNode(ctx, &Node{
			OwnerID:   dstOwner,
			ParentID:  parent,
			Name:      name,
			IsDir:     n.IsDir,
			ContentID: n.ContentID,
			Size:      n.Size,
			MediaType: n.MediaType,
			State:     n.State,
			CreatedAt: now,
			UpdatedAt: now,
			TrashedAt: n.TrashedAt,
		})
		if err != nil {
			if !n.IsDir {
				t.releaseQuietly(ctx, n.ContentID)
			}
			t.undoCopy(ctx, created)
			return nil, fmt.Errorf("copying node %d: %w", n.ID, err)
		}
		newIDs[n.ID] = cp.ID
		created = append(created, cp)
		if n.ID == src.ID {
			root = cp
		}
	}

	if _, err := t.quota.Adjust(ctx, dstOwner, total); err != nil {
		t.undoCopy(ctx, created)
		return nil, err
	}

	for _, cp := range created {
		if cp.State == StateActive {
			t.publisher.PublishIndex(cp.Summary())
		}
	}
	t.logger.Info("subtree copied", "source", src.ID, "copy", root.ID, "owner", dstOwner, "nodes", len(created), "bytes", total)
	return root, nil
}

// undoCopy removes partially copied nodes, deepest first, and releases their content.
func (t *NamespaceTree) undoCopy(ctx context.Context, created []*Node) {
	for i := len(created) - 1; i >= 0; i-- {
		n := created[i]
		if err := t.database.DeleteNodes(ctx, []int64{n.ID}); err != nil {
			t.logger.Error("rolling back copied node", "id", n.ID, "error", err)
			continue
		}
		if !n.IsDir {
			t.releaseQuietly(ctx, n.ContentID)
		}
	}
}

// copyName returns the n-th disambiguated name. File extensions stay last.
func copyName(name string, n int, isDir bool) string {
	if !isDir {
		if dot := strings.LastIndex(name, "."); dot > 0 {
			return fmt.Sprintf("%s 副本(%d)%s", name[:dot], n, name[dot:])
		}
	}
	return fmt.Sprintf("%s 副本(%d)", name, n)
}

// uniqueName finds the first free name among name, "name 副本(1)", "name 副本(2)", ...
func (t *NamespaceTree) uniqueName(ctx context.Context, owner, parentID int64, name string, isDir bool) (string, error) {
	candidate := name
	for n := 1; n <= maxCopySuffix; n++ {
		existing, err := t.database.FindChildByName(ctx, owner, parentID, candidate)
		if err != nil {
			return "", fmt.Errorf("checking sibling names: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = copyName(name, n, isDir)
	}
	return "", fmt.Errorf("no free copy name for %q: %w", name, ErrNameConflict)
}

// subtree returns root and its descendants in breadth-first order. Children
// rejected by keep are pruned together with their own descendants.
func (t *NamespaceTree) subtree(ctx context.Context, owner int64, root *Node, keep func(*Node) bool) ([]*Node, error) {
	out := []*Node{root}
	seen := map[int64]bool{root.ID: true}
	for i := 0; i < len(out); i++ {
		n := out[i]
		if !n.IsDir {
			continue
		}
		children, err := t.database.ListChildren(ctx, owner, n.ID)
		if err != nil {
			return nil, fmt.Errorf("listing children of %d: %w", n.ID, err)
		}
		for _, c := range children {
			if seen[c.ID] || (keep != nil && !keep(c)) {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// setStates writes state for nodes in batches, each batch in one transaction.
func (t *NamespaceTree) setStates(ctx context.Context, nodes []*Node, state NodeState) error {
	ids := lo.Map(nodes, func(n *Node, _ int) int64 { return n.ID })
	now := t.clock.Now()
	for _, batch := range lo.Chunk(ids, t.batchSize) {
		if err := t.database.SetNodeStates(ctx, batch, state, now); err != nil {
			return fmt.Errorf("setting %d nodes %s: %w", len(batch), state, err)
		}
	}
	return nil
}

// Delete moves a node to the trash. For folders the whole subtree is trashed,
// including descendants that were already trashed on their own.
func (t *NamespaceTree) Delete(ctx context.Context, nodeID, owner int64) error {
	n, err := t.Get(ctx, nodeID, owner)
	if err != nil {
		return err
	}
	if err := checkTransition(n, StateTrashed); err != nil {
		return err
	}
	_, err = t.trash(ctx, owner, n)
	return err
}

// DeleteMany moves several nodes to the trash. Every id is checked before
// anything changes; one unknown or foreign id fails the whole batch. A node
// already trashed along with an earlier one in the batch is skipped.
func (t *NamespaceTree) DeleteMany(ctx context.Context, nodeIDs []int64, owner int64) (int, error) {
	nodeIDs = lo.Uniq(nodeIDs)
	if len(nodeIDs) == 0 {
		return 0, fmt.Errorf("no nodes given: %w", ErrInvalidArgument)
	}
	targets := make([]*Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n, err := t.Get(ctx, id, owner)
		if err != nil {
			return 0, err
		}
		if err := checkTransition(n, StateTrashed); err != nil {
			return 0, err
		}
		targets = append(targets, n)
	}

	covered := make(map[int64]bool)
	total := 0
	for _, n := range targets {
		if covered[n.ID] {
			continue
		}
		nodes, err := t.trash(ctx, owner, n)
		if err != nil {
			return total, err
		}
		for _, c := range nodes {
			covered[c.ID] = true
		}
		total += len(nodes)
	}
	return total, nil
}

func (t *NamespaceTree) trash(ctx context.Context, owner int64, n *Node) ([]*Node, error) {
	nodes, err := t.subtree(ctx, owner, n, func(c *Node) bool { return c.State != StatePurged })
	if err != nil {
		return nil, err
	}
	if err := t.setStates(ctx, nodes, StateTrashed); err != nil {
		return nil, err
	}

	for _, c := range nodes {
		t.publisher.PublishDelete(c.ID)
	}
	t.logger.Info("moved to trash", "owner", owner, "id", n.ID, "nodes", len(nodes))
	return nodes, nil
}

// Restore brings a trashed node and every non-purged descendant back to active.
func (t *NamespaceTree) Restore(ctx context.Context, nodeID, owner int64) error {
	n, err := t.Get(ctx, nodeID, owner)
	if err != nil {
		return err
	}
	if err := checkTransition(n, StateActive); err != nil {
		return err
	}

	nodes, err := t.subtree(ctx, owner, n, func(c *Node) bool { return c.State != StatePurged })
	if err != nil {
		return err
	}
	if err := t.setStates(ctx, nodes, StateActive); err != nil {
		return err
	}

	for _, c := range nodes {
		c.State = StateActive
		t.publisher.PublishIndex(c.Summary())
	}
	t.logger.Info("restored from trash", "owner", owner, "id", n.ID, "nodes", len(nodes))
	return nil
}

// Purge irreversibly removes a node and its subtree, releasing content and
// debiting owner's quota for every file removed.
func (t *NamespaceTree) Purge(ctx context.Context, nodeID, owner int64) (PurgeReport, error) {
	n, err := t.Get(ctx, nodeID, owner)
	if err != nil {
		return PurgeReport{}, err
	}
	if err := checkTransition(n, StatePurged); err != nil {
		return PurgeReport{}, err
	}
	return t.purge(ctx, owner, n, nil)
}

// EmptyTrash purges every trashed node of owner together with everything
// reachable below it, whatever the state of those descendants. Nodes left
// behind by an interrupted purge are finished as well.
func (t *NamespaceTree) EmptyTrash(ctx context.Context, owner int64) (PurgeReport, error) {
	var roots []*Node
	for _, state := range []NodeState{StateTrashed, StatePurged} {
		nodes, err := t.database.ListNodesByState(ctx, owner, state)
		if err != nil {
			return PurgeReport{}, fmt.Errorf("listing %s nodes: %w", state, err)
		}
		roots = append(roots, nodes...)
	}

	var report PurgeReport
	done := make(map[int64]bool)
	for _, n := range roots {
		if done[n.ID] {
			continue
		}
		r, err := t.purge(ctx, owner, n, done)
		report.add(r)
		if err != nil {
			return report, err
		}
	}
	t.logger.Info("trash emptied", "owner", owner, "nodes", report.Nodes, "files", report.Files, "bytes", report.Bytes)
	return report, nil
}

// purge marks the subtree Purged, then removes it deepest first. A file's
// content reference is released and unlinked from its row before the row
// goes; a retry after a failed row delete finds the row unlinked and does not
// release again. Quota is debited for whatever was removed even when the
// purge stops early.
func (t *NamespaceTree) purge(ctx context.Context, owner int64, root *Node, done map[int64]bool) (report PurgeReport, err error) {
	nodes, err := t.subtree(ctx, owner, root, nil)
	if err != nil {
		return report, err
	}
	if done != nil {
		for _, n := range nodes {
			done[n.ID] = true
		}
	}

	pending := lo.Filter(nodes, func(n *Node, _ int) bool { return n.State != StatePurged })
	if err := t.setStates(ctx, pending, StatePurged); err != nil {
		return report, err
	}

	defer func() {
		if report.Bytes > 0 {
			if _, qerr := t.quota.Adjust(ctx, owner, -report.Bytes); qerr != nil && err == nil {
				err = qerr
			}
		}
		t.metrics.NodesPurged(report.Files, report.Bytes)
	}()

	var dirs []int64
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.IsDir {
			dirs = append(dirs, n.ID)
			continue
		}
		if rerr := t.registry.ReleaseNode(ctx, n); rerr != nil && !errors.Is(rerr, ErrNotFound) {
			return report, fmt.Errorf("releasing content of node %d: %w", n.ID, rerr)
		}
		if derr := t.database.DeleteNodes(ctx, []int64{n.ID}); derr != nil {
			return report, fmt.Errorf("deleting node %d: %w", n.ID, derr)
		}
		report.Nodes++
		report.Files++
		report.Bytes += n.Size
		t.publisher.PublishDelete(n.ID)
	}

	for _, batch := range lo.Chunk(dirs, t.batchSize) {
		if derr := t.database.DeleteNodes(ctx, batch); derr != nil {
			return report, fmt.Errorf("deleting %d folders: %w", len(batch), derr)
		}
		report.Nodes += len(batch)
		for _, id := range batch {
			t.publisher.PublishDelete(id)
		}
	}

	t.logger.Info("purged", "owner", owner, "id", root.ID, "nodes", report.Nodes, "bytes", report.Bytes)
	return report, nil
}

// ResolvePath returns the breadcrumb from the top of owner's tree down to
// nodeID. The walk stops at the first ancestor that is missing or foreign.
func (t *NamespaceTree) ResolvePath(ctx context.Context, nodeID, owner int64) ([]PathEntry, error) {
	var path []PathEntry
	seen := make(map[int64]bool)
	for current := nodeID; current != RootID && !seen[current]; {
		seen[current] = true
		n, err := t.database.FindNode(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		if n == nil || n.OwnerID != owner {
			break
		}
		path = append([]PathEntry{{ID: n.ID, Name: n.Name}}, path...)
		current = n.ParentID
	}
	return path, nil
}

// contains reports whether rootID is nodeID or one of its ancestors.
func (t *NamespaceTree) contains(ctx context.Context, nodeID, rootID int64) (bool, error) {
	seen := make(map[int64]bool)
	for current := nodeID; ; {
		if current == rootID {
			return true, nil
		}
		if current == RootID || seen[current] {
			return false, nil
		}
		seen[current] = true
		n, err := t.database.FindNode(ctx, current)
		if err != nil {
			return false, fmt.Errorf("walking ancestors: %w", err)
		}
		if n == nil {
			return false, nil
		}
		current = n.ParentID
	}
}

// List returns the active children of parentID, folders first, each group in
// natural name order.
func (t *NamespaceTree) List(ctx context.Context, owner, parentID int64) ([]*Node, error) {
	if err := t.checkParent(ctx, owner, parentID); err != nil {
		return nil, err
	}
	children, err := t.database.ListChildren(ctx, owner, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing folder: %w", err)
	}
	return sortNodes(lo.Filter(children, func(n *Node, _ int) bool { return n.State == StateActive })), nil
}

// ListTrash returns the top of owner's trash: trashed nodes whose parent is
// not trashed itself. What lies below a trashed folder is listed by
// ListTrashFolder.
func (t *NamespaceTree) ListTrash(ctx context.Context, owner int64) ([]*Node, error) {
	nodes, err := t.database.ListNodesByState(ctx, owner, StateTrashed)
	if err != nil {
		return nil, fmt.Errorf("listing trash: %w", err)
	}
	trashed := lo.SliceToMap(nodes, func(n *Node) (int64, bool) { return n.ID, true })
	return lo.Filter(nodes, func(n *Node, _ int) bool { return !trashed[n.ParentID] }), nil
}

// ListTrashFolder returns the trashed children of owner's trashed folder.
func (t *NamespaceTree) ListTrashFolder(ctx context.Context, owner, folderID int64) ([]*Node, error) {
	dir, err := t.Get(ctx, folderID, owner)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir {
		return nil, fmt.Errorf("node %d is not a folder: %w", folderID, ErrInvalidArgument)
	}
	if dir.State != StateTrashed {
		return nil, fmt.Errorf("folder %d is not in the trash: %w", folderID, ErrInvalidArgument)
	}
	children, err := t.database.ListChildren(ctx, owner, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing trashed folder: %w", err)
	}
	return sortNodes(lo.Filter(children, func(n *Node, _ int) bool { return n.State == StateTrashed })), nil
}

// SetStarred flags or unflags an active node.
func (t *NamespaceTree) SetStarred(ctx context.Context, nodeID, owner int64, starred bool) error {
	n, err := t.getLive(ctx, nodeID, owner)
	if err != nil {
		return err
	}
	if err := t.database.SetNodeStarred(ctx, n.ID, starred); err != nil {
		return fmt.Errorf("starring node: %w", err)
	}
	return nil
}

// ListStarred returns owner's starred active nodes.
func (t *NamespaceTree) ListStarred(ctx context.Context, owner int64) ([]*Node, error) {
	nodes, err := t.database.ListStarred(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing starred: %w", err)
	}
	return sortNodes(nodes), nil
}

// ListActive returns every active node of owner.
func (t *NamespaceTree) ListActive(ctx context.Context, owner int64) ([]*Node, error) {
	nodes, err := t.database.ListNodesByState(ctx, owner, StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing active nodes: %w", err)
	}
	return nodes, nil
}

func sortNodes(nodes []*Node) []*Node {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return natsort.Less(nodes[i].Name, nodes[j].Name)
	})
	return nodes
}
