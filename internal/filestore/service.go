// Package filestore manages each user's virtual file tree and storage quota.
//
// File contents live in the backend's blob store; the tree only records names,
// sizes and blob references. Every mutation runs under the owner's lock and
// persists the tree together with the recomputed usage, so StorageUsed always
// equals the sum of file sizes in the tree.
package filestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/walletchat/internal/accounts"
	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/files"
	"github.com/R3E-Network/walletchat/internal/domain/user"
	"github.com/R3E-Network/walletchat/internal/lock"
	"github.com/R3E-Network/walletchat/internal/metrics"
	"github.com/R3E-Network/walletchat/pkg/logger"
)

// Store is the part of the backend the file store needs.
type Store interface {
	database.UserStore
	database.BlobStore
}

// Usage summarises a user's storage.
type Usage struct {
	Used     int64 `json:"used"`
	Capacity int64 `json:"capacity"`
	Files    int   `json:"files"`
}

// Service implements the virtual file store.
type Service struct {
	store    Store
	accounts *accounts.Service
	locker   lock.Locker
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// New creates a file store service.
func New(store Store, accts *accounts.Service, locker lock.Locker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("filestore")
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Service{
		store:    store,
		accounts: accts,
		locker:   locker,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AttachMetrics enables instrumentation.
func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name cannot be empty", domain.ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\x00") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}
	return name, nil
}

// tree is a locked, writable copy of one user's file tree.
type tree struct {
	owner *user.User
	root  *files.Node
	used  int64
}

// open locks owner and loads a private copy of the tree. The stored usage is
// checked against the tree and corrected when they disagree.
func (s *Service) open(ctx context.Context, owner string) (*tree, func(), error) {
	if _, err := s.accounts.Ensure(ctx, owner); err != nil {
		return nil, nil, err
	}
	unlock, err := s.locker.Lock(ctx, lock.UserKey(owner))
	if err != nil {
		return nil, nil, err
	}
	u, err := s.store.GetUser(ctx, owner)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	root := u.FileTree.Clone()
	if root == nil {
		root = files.NewRoot()
	}
	computed := files.TotalSize(root)
	if computed != u.StorageUsed {
		s.metrics.RecordStorageDrift()
		s.log.WithField("owner", owner).
			WithField("stored", u.StorageUsed).
			WithField("computed", computed).
			Warn("storage usage drift; using recomputed value")
	}
	return &tree{owner: u, root: root, used: computed}, unlock, nil
}

// save persists the tree and its recomputed usage as one update.
func (s *Service) save(ctx context.Context, t *tree) error {
	used := files.TotalSize(t.root)
	_, err := s.store.SaveUser(ctx, t.owner.Address, user.Update{
		FileTree:    t.root,
		StorageUsed: &used,
	})
	if err != nil {
		return fmt.Errorf("save file tree: %w", err)
	}
	t.used = used
	return nil
}

// Upload stores data as a new file named name in the folder at path.
func (s *Service) Upload(ctx context.Context, owner string, path []string, name string, data []byte) (node *files.Node, err error) {
	defer func() { s.metrics.RecordFileOp("upload", err) }()

	name, err = validName(name)
	if err != nil {
		return nil, err
	}
	t, unlock, err := s.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	folder, err := files.Resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	size := int64(len(data))
	if t.used+size > t.owner.StorageCapacity {
		return nil, fmt.Errorf("%w: %d used + %d requested > %d", domain.ErrQuotaExceeded, t.used, size, t.owner.StorageCapacity)
	}

	id := uuid.NewString()
	ref, err := s.store.UploadBlob(ctx, owner+"/"+id, data)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	now := s.now()
	node = &files.Node{Kind: files.KindFile, ID: id, Name: name, Size: size, Ref: ref, ModifiedAt: now}
	folder.Children = append(folder.Children, node)
	folder.ModifiedAt = now

	if err := s.save(ctx, t); err != nil {
		s.deleteBlobs(ctx, owner, []string{ref})
		return nil, err
	}
	return node.Clone(), nil
}

// CreateFolder adds an empty folder named name at path.
func (s *Service) CreateFolder(ctx context.Context, owner string, path []string, name string) (node *files.Node, err error) {
	defer func() { s.metrics.RecordFileOp("mkdir", err) }()

	name, err = validName(name)
	if err != nil {
		return nil, err
	}
	t, unlock, err := s.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	parent, err := files.Resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	now := s.now()
	node = &files.Node{Kind: files.KindFolder, ID: uuid.NewString(), Name: name, ModifiedAt: now}
	parent.Children = append(parent.Children, node)
	parent.ModifiedAt = now

	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Delete removes the child nodeID of the folder at path and returns the bytes
// freed. Deleting a folder frees everything below it. Blobs are removed best
// effort after the tree is saved.
func (s *Service) Delete(ctx context.Context, owner string, path []string, nodeID string) (freed int64, err error) {
	defer func() { s.metrics.RecordFileOp("delete", err) }()

	t, unlock, err := s.open(ctx, owner)
	if err != nil {
		return 0, err
	}
	defer unlock()

	parent, err := files.Resolve(t.root, path)
	if err != nil {
		return 0, err
	}
	node, idx := parent.Child(nodeID)
	if node == nil {
		return 0, domain.NotFound("node", nodeID)
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	parent.ModifiedAt = s.now()

	before := t.used
	if err := s.save(ctx, t); err != nil {
		return 0, err
	}
	s.deleteBlobs(ctx, owner, files.Refs(node))
	return before - t.used, nil
}

// Rename changes the name of child nodeID of the folder at path. Usage is
// unaffected.
func (s *Service) Rename(ctx context.Context, owner string, path []string, nodeID, newName string) (node *files.Node, err error) {
	defer func() { s.metrics.RecordFileOp("rename", err) }()

	newName, err = validName(newName)
	if err != nil {
		return nil, err
	}
	t, unlock, err := s.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	parent, err := files.Resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	node, _ = parent.Child(nodeID)
	if node == nil {
		return nil, domain.NotFound("node", nodeID)
	}
	node.Name = newName
	node.ModifiedAt = s.now()

	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Move re-parents child nodeID of the folder at from into the folder at to.
// A folder cannot be moved into itself or one of its descendants.
func (s *Service) Move(ctx context.Context, owner string, from []string, nodeID string, to []string) (node *files.Node, err error) {
	defer func() { s.metrics.RecordFileOp("move", err) }()

	t, unlock, err := s.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	src, err := files.Resolve(t.root, from)
	if err != nil {
		return nil, err
	}
	node, idx := src.Child(nodeID)
	if node == nil {
		return nil, domain.NotFound("node", nodeID)
	}
	dst, err := files.Resolve(t.root, to)
	if err != nil {
		return nil, err
	}
	if dst == src {
		return node.Clone(), nil
	}
	if within(node, dst) {
		return nil, fmt.Errorf("%w: %s into its own subtree", domain.ErrInvalidMove, nodeID)
	}
	if existing, _ := dst.Child(nodeID); existing != nil {
		return nil, fmt.Errorf("%w: %s already in destination", domain.ErrInvalidMove, nodeID)
	}

	now := s.now()
	src.Children = append(src.Children[:idx], src.Children[idx+1:]...)
	dst.Children = append(dst.Children, node)
	src.ModifiedAt, dst.ModifiedAt = now, now

	if err := s.save(ctx, t); err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// within reports whether target is n or lies below it.
func within(n, target *files.Node) bool {
	if n == target {
		return true
	}
	for _, c := range n.Children {
		if within(c, target) {
			return true
		}
	}
	return false
}

// List returns a copy of the folder at path.
func (s *Service) List(ctx context.Context, owner string, path []string) (*files.Node, error) {
	u, err := s.accounts.Ensure(ctx, owner)
	if err != nil {
		return nil, err
	}
	root := u.FileTree
	if root == nil {
		root = files.NewRoot()
	}
	folder, err := files.Resolve(root, path)
	if err != nil {
		return nil, err
	}
	return folder.Clone(), nil
}

// Usage reports used and available bytes.
func (s *Service) Usage(ctx context.Context, owner string) (Usage, error) {
	u, err := s.accounts.Ensure(ctx, owner)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		Used:     files.TotalSize(u.FileTree),
		Capacity: u.StorageCapacity,
		Files:    countFiles(u.FileTree),
	}, nil
}

func countFiles(n *files.Node) int {
	if n == nil {
		return 0
	}
	if n.Kind == files.KindFile {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += countFiles(c)
	}
	return total
}

func (s *Service) deleteBlobs(ctx context.Context, owner string, refs []string) {
	for _, ref := range refs {
		if err := s.store.DeleteBlob(ctx, ref); err != nil {
			s.log.WithError(err).
				WithField("owner", owner).
				WithField("ref", ref).
				Warn("delete blob")
		}
	}
}
