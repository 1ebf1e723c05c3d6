package graph

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func rootNode(id, text string, at time.Time) Node {
	return Node{NodeID: id, BranchType: BranchRoot, NodeText: text, CreatedAt: at}
}

func mainNode(id, parent, text string, at time.Time) Node {
	return Node{NodeID: id, ParentNodeID: strPtr(parent), BranchType: BranchMain, NodeText: text, CreatedAt: at}
}

func sideNode(id, parent string, slot int, at time.Time) Node {
	return Node{NodeID: id, ParentNodeID: strPtr(parent), BranchType: BranchSide, BranchSlot: intPtr(slot), CreatedAt: at}
}

// mainChain builds root → n1 → … → nN with the given texts.
func mainChain(texts ...string) []Node {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := []Node{rootNode("root", texts[0], base)}
	parent := "root"
	for i, text := range texts[1:] {
		id := fmt.Sprintf("n%d", i+1)
		nodes = append(nodes, mainNode(id, parent, text, base.Add(time.Duration(i+1)*time.Second)))
		parent = id
	}
	return nodes
}

// ── ChooseAttachment ─────────────────────────────────────────────────────────

func TestChooseAttachmentEmptyGraph(t *testing.T) {
	t.Parallel()

	att := ChooseAttachment(nil, nil, BranchMain, "n1", nil)
	if att.ParentNodeID != nil || att.BranchType != BranchRoot || att.BranchSlot != nil {
		t.Fatalf("want root attachment, got %+v", att)
	}
	if att.OverrideReason != ReasonRootNode {
		t.Fatalf("want %q, got %q", ReasonRootNode, att.OverrideReason)
	}
}

func TestChooseAttachmentMainContinuation(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root")
	att := ChooseAttachment(nodes, strPtr("root"), BranchMain, "n1", strPtr("root"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "root" {
		t.Fatalf("want parent root, got %+v", att)
	}
	if att.BranchType != BranchMain || att.BranchSlot != nil || att.OverrideReason != "" {
		t.Fatalf("want clean main attachment, got %+v", att)
	}
}

func TestChooseAttachmentMainTakenGoesSide(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root", "one")
	att := ChooseAttachment(nodes, strPtr("root"), BranchMain, "n2", strPtr("n1"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "root" {
		t.Fatalf("want parent root, got %+v", att)
	}
	if att.BranchType != BranchSide || att.BranchSlot == nil || *att.BranchSlot != 1 {
		t.Fatalf("want side slot 1, got %+v", att)
	}
	if att.OverrideReason != ReasonRepairedToSide {
		t.Fatalf("want %q, got %q", ReasonRepairedToSide, att.OverrideReason)
	}
}

func TestChooseAttachmentSidePreferenceNoOverride(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root")
	att := ChooseAttachment(nodes, strPtr("root"), BranchSide, "n1", strPtr("root"))
	if att.BranchType != BranchSide || att.BranchSlot == nil || *att.BranchSlot != 1 {
		t.Fatalf("want side slot 1, got %+v", att)
	}
	if att.OverrideReason != "" {
		t.Fatalf("side preference must not record an override, got %q", att.OverrideReason)
	}
}

func TestChooseAttachmentSecondSideSlot(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := append(mainChain("root"), sideNode("s1", "root", 1, base.Add(time.Second)))
	att := ChooseAttachment(nodes, strPtr("root"), BranchSide, "n2", strPtr("root"))
	if att.BranchSlot == nil || *att.BranchSlot != 2 {
		t.Fatalf("want slot 2, got %+v", att)
	}
}

func TestChooseAttachmentUnknownParentRepaired(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root", "one")
	att := ChooseAttachment(nodes, strPtr("missing"), BranchMain, "n2", strPtr("n1"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "n1" {
		t.Fatalf("want repaired parent n1, got %+v", att)
	}
	if att.OverrideReason != ReasonParentRepaired {
		t.Fatalf("want %q, got %q", ReasonParentRepaired, att.OverrideReason)
	}
}

func TestChooseAttachmentNilParentRepairedToComputedTail(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root", "one", "two")
	att := ChooseAttachment(nodes, nil, BranchMain, "n3", nil)
	if att.ParentNodeID == nil || *att.ParentNodeID != "n2" {
		t.Fatalf("want computed tail n2, got %+v", att)
	}
	if att.OverrideReason != ReasonParentRepaired {
		t.Fatalf("want %q, got %q", ReasonParentRepaired, att.OverrideReason)
	}
}

func TestChooseAttachmentCycleRepaired(t *testing.T) {
	t.Parallel()

	// The candidate parent is the node being attached: the degenerate cycle.
	nodes := mainChain("root", "one")
	att := ChooseAttachment(nodes, strPtr("n2"), BranchMain, "n2", strPtr("n1"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "n1" {
		t.Fatalf("want repaired parent n1, got %+v", att)
	}
	if att.OverrideReason != ReasonParentRepaired {
		t.Fatalf("want %q, got %q", ReasonParentRepaired, att.OverrideReason)
	}
}

func TestChooseAttachmentFallbackRoot(t *testing.T) {
	t.Parallel()

	// Tail hint points at an unknown node and the graph's main chain is
	// empty, so the repair lands on the root.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := []Node{rootNode("root", "r", base), sideNode("s1", "root", 1, base.Add(time.Second))}
	att := ChooseAttachment(nodes, strPtr("missing"), BranchSide, "n2", strPtr("gone"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "root" {
		t.Fatalf("want root fallback, got %+v", att)
	}
	if att.OverrideReason != ReasonFallbackRoot {
		t.Fatalf("want %q, got %q", ReasonFallbackRoot, att.OverrideReason)
	}
}

func TestChooseAttachmentRecoveredRoot(t *testing.T) {
	t.Parallel()

	// Non-empty node list without a root: nothing to attach to.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := []Node{mainNode("m1", "ghost", "text", base)}
	att := ChooseAttachment(nodes, nil, BranchMain, "n2", nil)
	if att.ParentNodeID != nil || att.BranchType != BranchRoot {
		t.Fatalf("want recovered root, got %+v", att)
	}
	if att.OverrideReason != ReasonRecoveredRoot {
		t.Fatalf("want %q, got %q", ReasonRecoveredRoot, att.OverrideReason)
	}
}

func TestChooseAttachmentParentFullFallsBackToMainTail(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := append(mainChain("root", "one"),
		sideNode("s1", "root", 1, base.Add(2*time.Second)),
		sideNode("s2", "root", 2, base.Add(3*time.Second)),
	)
	att := ChooseAttachment(nodes, strPtr("root"), BranchSide, "n9", strPtr("n1"))
	if att.ParentNodeID == nil || *att.ParentNodeID != "n1" {
		t.Fatalf("want main-tail fallback n1, got %+v", att)
	}
	if att.BranchType != BranchMain || att.BranchSlot != nil {
		t.Fatalf("want main attachment, got %+v", att)
	}
	if att.OverrideReason != ReasonParentFullMainTail {
		t.Fatalf("want %q, got %q", ReasonParentFullMainTail, att.OverrideReason)
	}
}

// Structural invariants hold for any attachment produced against a valid
// graph, except the documented parent-full corner.
func TestChooseAttachmentPreservesInvariants(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	graphs := [][]Node{
		nil,
		mainChain("root"),
		mainChain("root", "one"),
		mainChain("root", "one", "two"),
		append(mainChain("root", "one"), sideNode("s1", "root", 1, base.Add(time.Minute))),
	}
	candidates := []*string{nil, strPtr("root"), strPtr("n1"), strPtr("missing")}
	prefs := []string{BranchMain, BranchSide}

	for gi, nodes := range graphs {
		for ci, candidate := range candidates {
			for _, pref := range prefs {
				name := fmt.Sprintf("graph%d/cand%d/%s", gi, ci, pref)
				t.Run(name, func(t *testing.T) {
					t.Parallel()
					att := ChooseAttachment(nodes, candidate, pref, "new-node", nil)

					newNode := Node{
						NodeID:       "new-node",
						ParentNodeID: att.ParentNodeID,
						BranchType:   att.BranchType,
						BranchSlot:   att.BranchSlot,
						CreatedAt:    base.Add(time.Hour),
					}
					appended := append(append([]Node{}, nodes...), newNode)

					// Slot/type pairing.
					if att.BranchType == BranchSide {
						if att.BranchSlot == nil || (*att.BranchSlot != 1 && *att.BranchSlot != 2) {
							t.Fatalf("side node with bad slot: %+v", att)
						}
					} else if att.BranchSlot != nil {
						t.Fatalf("%s node must have nil slot: %+v", att.BranchType, att)
					}
					if att.BranchType == BranchRoot && att.ParentNodeID != nil {
						t.Fatalf("root must have nil parent: %+v", att)
					}

					// Single root.
					roots := 0
					for _, n := range appended {
						if n.BranchType == BranchRoot {
							roots++
						}
					}
					if FindRoot(nodes) != nil && roots != 1 {
						t.Fatalf("root count %d after attachment %+v", roots, att)
					}

					// No duplicate side slots.
					if att.ParentNodeID != nil {
						_, slots := ChildSlots(appended, *att.ParentNodeID)
						seen := map[int]bool{}
						for _, s := range slots {
							if seen[s] {
								t.Fatalf("duplicate side slot %d under %s", s, *att.ParentNodeID)
							}
							seen[s] = true
						}
					}

					// Acyclic.
					if WouldCreateCycle(IndexNodes(appended), newNode.ParentNodeID, newNode.NodeID) {
						t.Fatalf("cycle introduced by %+v", att)
					}
				})
			}
		}
	}
}

// ── main branch walk + summary ───────────────────────────────────────────────

func TestFindMainTail(t *testing.T) {
	t.Parallel()

	t.Run("empty graph", func(t *testing.T) {
		t.Parallel()
		if tail := FindMainTail(nil); tail != nil {
			t.Fatalf("want nil tail, got %v", *tail)
		}
	})

	t.Run("root only", func(t *testing.T) {
		t.Parallel()
		tail := FindMainTail(mainChain("root"))
		if tail == nil || *tail != "root" {
			t.Fatalf("want root, got %v", tail)
		}
	})

	t.Run("chain of five", func(t *testing.T) {
		t.Parallel()
		tail := FindMainTail(mainChain("root", "one", "two", "three", "four", "five"))
		if tail == nil || *tail != "n5" {
			t.Fatalf("want n5, got %v", tail)
		}
	})

	t.Run("side branches ignored", func(t *testing.T) {
		t.Parallel()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		nodes := append(mainChain("root", "one"), sideNode("s1", "n1", 1, base.Add(time.Minute)))
		tail := FindMainTail(nodes)
		if tail == nil || *tail != "n1" {
			t.Fatalf("want n1, got %v", tail)
		}
	})
}

func TestBuildMainBranchSummaryLastFive(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root", "one", "two", "three", "four", "five")
	got := BuildMainBranchSummary(nodes)
	want := "one | two | three | four | five"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestBuildMainBranchSummaryShortChain(t *testing.T) {
	t.Parallel()

	got := BuildMainBranchSummary(mainChain("root", "one"))
	if got != "root | one" {
		t.Fatalf("want %q, got %q", "root | one", got)
	}
}

func TestBuildMainBranchSummaryTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 400)
	nodes := mainChain(long, long, long)
	got := BuildMainBranchSummary(nodes)
	if len(got) != 600 {
		t.Fatalf("want 600 chars, got %d", len(got))
	}
}

func TestBuildMainBranchSummaryEmptyGraph(t *testing.T) {
	t.Parallel()

	if got := BuildMainBranchSummary(nil); got != "" {
		t.Fatalf("want empty summary, got %q", got)
	}
}

// ── snapshot hash ────────────────────────────────────────────────────────────

func TestSnapshotHashOrderIndependent(t *testing.T) {
	t.Parallel()

	nodes := mainChain("root", "one")
	reversed := []Node{nodes[1], nodes[0]}
	if SnapshotHash(nodes) != SnapshotHash(reversed) {
		t.Fatal("hash must be invariant under permutation")
	}
}

func TestSnapshotHashSensitiveToContent(t *testing.T) {
	t.Parallel()

	a := mainChain("root", "one")
	b := mainChain("root", "two")
	if SnapshotHash(a) == SnapshotHash(b) {
		t.Fatal("different texts must hash differently")
	}
}

func TestSnapshotHashEmpty(t *testing.T) {
	t.Parallel()

	// SHA-256 of the canonical empty list "[]".
	const want = "4f53cda18c2baa0c0354bb5f9a3ecbe5ed12ab4d8e11ba873c2f11161202b945"
	if got := SnapshotHash(nil); got != want {
		t.Fatalf("want %s, got %s", want, got)
	}
}

func TestSnapshotHashTieBreakOnNodeID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Node{NodeID: "a", BranchType: BranchRoot, NodeText: "ra", CreatedAt: at}
	b := Node{NodeID: "b", ParentNodeID: strPtr("a"), BranchType: BranchMain, NodeText: "mb", CreatedAt: at}
	if SnapshotHash([]Node{a, b}) != SnapshotHash([]Node{b, a}) {
		t.Fatal("equal timestamps must tie-break deterministically on node id")
	}
}
