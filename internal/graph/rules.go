// Package graph implements the pure MindGraph rules: the deterministic
// attachment policy that turns an LLM suggestion into a structurally valid
// tree operation, the main-branch walk, and the snapshot fingerprint.
//
// Everything in this package operates on plain node slices and performs no
// I/O; the writer agent owns all mutation.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/MrWong99/mindgraph/internal/canonical"
)

// Branch types. A session's graph has exactly one root; each parent has at
// most one main child and at most two side children.
const (
	BranchRoot = "root"
	BranchMain = "main"
	BranchSide = "side"
)

// Override reasons recorded on a node whenever the attachment policy had to
// repair the proposal.
const (
	ReasonRootNode           = "root_node"
	ReasonParentRepaired     = "parent_repaired"
	ReasonFallbackRoot       = "fallback_root"
	ReasonRecoveredRoot      = "recovered_root"
	ReasonRepairedToSide     = "branch_repaired_to_side"
	ReasonParentFullMainTail = "parent_full_fallback_main_tail"
)

// Node is the projection of a persisted graph node that the rules operate on.
type Node struct {
	NodeID       string
	ParentNodeID *string
	BranchType   string
	BranchSlot   *int
	NodeText     string
	CreatedAt    time.Time
}

// Attachment is the outcome of the attachment policy: where the new node
// hangs and which repair, if any, was applied.
type Attachment struct {
	ParentNodeID   *string
	BranchType     string
	BranchSlot     *int
	OverrideReason string
}

// IndexNodes returns the nodes keyed by node id.
func IndexNodes(nodes []Node) map[string]Node {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	return byID
}

// ChildSlots reports whether parentNodeID already has a main child, and which
// side slots are occupied (sorted ascending).
func ChildSlots(nodes []Node, parentNodeID string) (hasMain bool, sideSlots []int) {
	for _, n := range nodes {
		if n.ParentNodeID == nil || *n.ParentNodeID != parentNodeID {
			continue
		}
		switch {
		case n.BranchType == BranchMain:
			hasMain = true
		case n.BranchType == BranchSide && n.BranchSlot != nil && (*n.BranchSlot == 1 || *n.BranchSlot == 2):
			sideSlots = append(sideSlots, *n.BranchSlot)
		}
	}
	sort.Ints(sideSlots)
	return hasMain, sideSlots
}

// FindRoot returns the root node, or nil when the graph has none.
func FindRoot(nodes []Node) *Node {
	for i := range nodes {
		if nodes[i].BranchType == BranchRoot {
			return &nodes[i]
		}
	}
	return nil
}

// FindMainTail walks the main chain from the root and returns the id of the
// last node reached. Returns nil when the graph has no root.
func FindMainTail(nodes []Node) *string {
	root := FindRoot(nodes)
	if root == nil {
		return nil
	}
	byParent := mainChildrenByParent(nodes)
	current := root.NodeID
	for {
		child, ok := byParent[current]
		if !ok {
			break
		}
		current = child.NodeID
	}
	return &current
}

// MainBranchTexts returns the node texts along the main branch, root first.
func MainBranchTexts(nodes []Node) []string {
	root := FindRoot(nodes)
	if root == nil {
		return nil
	}
	byParent := mainChildrenByParent(nodes)
	texts := []string{root.NodeText}
	current := root.NodeID
	for {
		child, ok := byParent[current]
		if !ok {
			break
		}
		texts = append(texts, child.NodeText)
		current = child.NodeID
	}
	return texts
}

// BuildMainBranchSummary joins the last five main-branch texts with " | ",
// truncated to 600 bytes.
func BuildMainBranchSummary(nodes []Node) string {
	texts := MainBranchTexts(nodes)
	if len(texts) > 5 {
		texts = texts[len(texts)-5:]
	}
	summary := ""
	for i, t := range texts {
		if i > 0 {
			summary += " | "
		}
		summary += t
	}
	if runes := []rune(summary); len(runes) > 600 {
		summary = string(runes[:600])
	}
	return summary
}

// WouldCreateCycle reports whether attaching nodeID under parentNodeID would
// close a cycle, by walking ancestors from the candidate parent. The new node
// is not yet part of the graph, so reaching nodeID means the candidate is a
// descendant of the node being attached.
func WouldCreateCycle(byID map[string]Node, parentNodeID *string, nodeID string) bool {
	current := parentNodeID
	for current != nil {
		if *current == nodeID {
			return true
		}
		parent, ok := byID[*current]
		if !ok {
			return false
		}
		current = parent.ParentNodeID
	}
	return false
}

// ChooseAttachment resolves where a proposed node attaches. It never fails:
// invalid candidate parents are repaired to the main tail, unknown parents
// fall back to the root, and a parent with no free slot falls back to a main
// attachment on the main tail. The returned OverrideReason records which
// repair, if any, was applied.
func ChooseAttachment(
	nodes []Node,
	candidateParentID *string,
	branchPreference string,
	nodeID string,
	currentMainTailNodeID *string,
) Attachment {
	if len(nodes) == 0 {
		return Attachment{BranchType: BranchRoot, OverrideReason: ReasonRootNode}
	}

	byID := IndexNodes(nodes)
	mainTail := currentMainTailNodeID
	if mainTail == nil || *mainTail == "" {
		mainTail = FindMainTail(nodes)
	}

	overrideReason := ""
	parentID := candidateParentID
	if parentID == nil || *parentID == "" || !known(byID, parentID) || WouldCreateCycle(byID, parentID, nodeID) {
		parentID = mainTail
		overrideReason = ReasonParentRepaired
	}

	if parentID == nil || *parentID == "" || !known(byID, parentID) {
		if root := FindRoot(nodes); root != nil {
			id := root.NodeID
			parentID = &id
		} else {
			parentID = nil
		}
		overrideReason = ReasonFallbackRoot
	}

	if parentID == nil || *parentID == "" {
		return Attachment{BranchType: BranchRoot, OverrideReason: ReasonRecoveredRoot}
	}

	hasMain, sideSlots := ChildSlots(nodes, *parentID)
	if branchPreference == BranchMain && !hasMain {
		return Attachment{
			ParentNodeID:   parentID,
			BranchType:     BranchMain,
			OverrideReason: overrideReason,
		}
	}

	occupied := make(map[int]bool, len(sideSlots))
	for _, s := range sideSlots {
		occupied[s] = true
	}
	for _, slot := range []int{1, 2} {
		if occupied[slot] {
			continue
		}
		reason := overrideReason
		if reason == "" && branchPreference != BranchSide {
			reason = ReasonRepairedToSide
		}
		s := slot
		return Attachment{
			ParentNodeID:   parentID,
			BranchType:     BranchSide,
			BranchSlot:     &s,
			OverrideReason: reason,
		}
	}

	// Both side slots and the main slot are taken. Climb to the main tail
	// and attach there as main; the duplicate-main corner this can produce
	// is accepted and recorded via the override reason.
	fallbackParent := parentID
	if mainTail != nil && known(byID, mainTail) {
		fallbackParent = mainTail
	}
	reason := overrideReason
	if reason == "" {
		reason = ReasonParentFullMainTail
	}
	return Attachment{
		ParentNodeID:   fallbackParent,
		BranchType:     BranchMain,
		OverrideReason: reason,
	}
}

// SnapshotHash fingerprints a graph: nodes are sorted by (created_at,
// node_id), projected to their structural fields, encoded as canonical JSON
// and hashed with SHA-256. The result is independent of input order.
func SnapshotHash(nodes []Node) string {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].NodeID < sorted[j].NodeID
	})

	type hashNode struct {
		NodeID       string  `json:"node_id"`
		ParentNodeID *string `json:"parent_node_id"`
		BranchType   string  `json:"branch_type"`
		BranchSlot   *int    `json:"branch_slot"`
		NodeText     string  `json:"node_text"`
	}
	normalized := make([]hashNode, 0, len(sorted))
	for _, n := range sorted {
		normalized = append(normalized, hashNode{
			NodeID:       n.NodeID,
			ParentNodeID: n.ParentNodeID,
			BranchType:   n.BranchType,
			BranchSlot:   n.BranchSlot,
			NodeText:     n.NodeText,
		})
	}

	data, err := canonical.Marshal(normalized)
	if err != nil {
		// The projection contains only strings, ints and nulls; canonical
		// encoding of it cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func known(byID map[string]Node, id *string) bool {
	if id == nil {
		return false
	}
	_, ok := byID[*id]
	return ok
}

func mainChildrenByParent(nodes []Node) map[string]Node {
	byParent := make(map[string]Node)
	for _, n := range nodes {
		if n.BranchType == BranchMain && n.ParentNodeID != nil {
			byParent[*n.ParentNodeID] = n
		}
	}
	return byParent
}
