// Package files models the per-user virtual file tree.
package files

import (
	"fmt"
	"time"

	"github.com/R3E-Network/walletchat/internal/domain"
)

// Kind distinguishes folders from files.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// RootID is the id of every user's root folder.
const RootID = "root"

// Node is either a folder (Children) or a file (Size, Ref).
type Node struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Children   []*Node   `json:"children,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Ref        string    `json:"ref,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewRoot returns an empty root folder.
func NewRoot() *Node {
	return &Node{Kind: KindFolder, ID: RootID, Name: "/", ModifiedAt: time.Now().UTC()}
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool {
	return n != nil && n.Kind == KindFolder
}

// Child returns the direct child with the given id.
func (n *Node) Child(id string) (*Node, int) {
	if n == nil {
		return nil, -1
	}
	for i, c := range n.Children {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

// Clone deep-copies the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return &out
}

// Resolve walks path (folder ids from the root) and returns the folder it names.
// An empty path is the root itself.
func Resolve(root *Node, path []string) (*Node, error) {
	if !root.IsFolder() {
		return nil, fmt.Errorf("%w: root is not a folder", domain.ErrPathNotFound)
	}
	cur := root
	for _, seg := range path {
		next, _ := cur.Child(seg)
		if next == nil || !next.IsFolder() {
			return nil, fmt.Errorf("%w: %s", domain.ErrPathNotFound, seg)
		}
		cur = next
	}
	return cur, nil
}

// TotalSize is the recursive sum of file sizes under n.
func TotalSize(n *Node) int64 {
	if n == nil {
		return 0
	}
	if n.Kind == KindFile {
		return n.Size
	}
	var total int64
	for _, c := range n.Children {
		total += TotalSize(c)
	}
	return total
}

// Refs collects the external blob references of every file under n.
func Refs(n *Node) []string {
	if n == nil {
		return nil
	}
	if n.Kind == KindFile {
		if n.Ref == "" {
			return nil
		}
		return []string{n.Ref}
	}
	var refs []string
	for _, c := range n.Children {
		refs = append(refs, Refs(c)...)
	}
	return refs
}

// Contains reports whether id names n or any node below it.
func Contains(n *Node, id string) bool {
	if n == nil {
		return false
	}
	if n.ID == id {
		return true
	}
	for _, c := range n.Children {
		if Contains(c, id) {
			return true
		}
	}
	return false
}
