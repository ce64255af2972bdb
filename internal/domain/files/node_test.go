package files

import (
	"errors"
	"testing"

	"github.com/R3E-Network/walletchat/internal/domain"
)

func sampleTree() *Node {
	root := NewRoot()
	docs := &Node{Kind: KindFolder, ID: "docs", Name: "docs"}
	docs.Children = []*Node{
		{Kind: KindFile, ID: "a", Name: "a.txt", Size: 100, Ref: "blob/a"},
		{Kind: KindFolder, ID: "deep", Name: "deep", Children: []*Node{
			{Kind: KindFile, ID: "b", Name: "b.txt", Size: 200, Ref: "blob/b"},
		}},
	}
	root.Children = []*Node{docs, {Kind: KindFile, ID: "c", Name: "c.png", Size: 5}}
	return root
}

func TestResolve(t *testing.T) {
	root := sampleTree()

	got, err := Resolve(root, nil)
	if err != nil || got != root {
		t.Fatalf("empty path should resolve to root, got %v %v", got, err)
	}

	got, err = Resolve(root, []string{"docs", "deep"})
	if err != nil {
		t.Fatalf("resolve docs/deep: %v", err)
	}
	if got.ID != "deep" {
		t.Fatalf("expected deep, got %s", got.ID)
	}

	if _, err := Resolve(root, []string{"missing"}); !errors.Is(err, domain.ErrPathNotFound) {
		t.Fatalf("expected path not found, got %v", err)
	}
	if _, err := Resolve(root, []string{"c"}); !errors.Is(err, domain.ErrPathNotFound) {
		t.Fatalf("file segment should not resolve, got %v", err)
	}
}

func TestTotalSizeAndRefs(t *testing.T) {
	root := sampleTree()
	if got := TotalSize(root); got != 305 {
		t.Fatalf("TotalSize = %d, want 305", got)
	}
	docs, _ := root.Child("docs")
	if got := TotalSize(docs); got != 300 {
		t.Fatalf("TotalSize(docs) = %d, want 300", got)
	}
	if refs := Refs(docs); len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %v", refs)
	}
}

func TestCloneIsDeep(t *testing.T) {
	root := sampleTree()
	cp := root.Clone()
	docs, _ := cp.Child("docs")
	docs.Children = nil

	orig, _ := root.Child("docs")
	if len(orig.Children) != 2 {
		t.Fatalf("clone mutation leaked into original")
	}
	if !Contains(root, "b") || Contains(cp, "b") {
		t.Fatalf("Contains mismatch after clone mutation")
	}
}
