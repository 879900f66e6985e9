package tracking

import (
	"parkwatch/internal/domain/parking"
)

// IdentityReconciler repairs tracker identifier churn: when the upstream
// tracker hands the same physical object a fresh identifier, the old one is
// mapped onto the new one. Mappings form a union-find forest with path
// compression, so chained reassignments collapse to a single hop and
// resolution always terminates.
type IdentityReconciler struct {
	threshold float64
	parent    map[int]int
}

// NewIdentityReconciler builds a reconciler merging identifiers whose boxes
// overlap above the given IoU threshold.
func NewIdentityReconciler(threshold float64) *IdentityReconciler {
	return &IdentityReconciler{
		threshold: threshold,
		parent:    make(map[int]int),
	}
}

// Resolve follows the mapping from id to its current identifier, compressing
// the path as it goes. Unknown identifiers resolve to themselves.
func (r *IdentityReconciler) Resolve(id int) int {
	root := id
	seen := make(map[int]bool)
	for {
		next, ok := r.parent[root]
		if !ok {
			break
		}
		if seen[next] {
			// Corrupted mapping; stop rather than loop forever.
			break
		}
		seen[next] = true
		root = next
	}
	// Path compression: point every visited identifier at the root.
	cur := id
	for cur != root {
		next := r.parent[cur]
		r.parent[cur] = root
		cur = next
	}
	return root
}

// Merge records that oldID now continues as newID. A merge that would map an
// identifier onto itself (directly or through an existing chain) is a no-op,
// which is what breaks cycles.
func (r *IdentityReconciler) Merge(oldID, newID int) bool {
	oldRoot := r.Resolve(oldID)
	newRoot := r.Resolve(newID)
	if oldRoot == newRoot {
		return false
	}
	r.parent[oldRoot] = newRoot
	return true
}

// Continuation is a detected identifier reassignment.
type Continuation struct {
	OldID int
	IoU   float64
}

// FindContinuation scans live tracks in order and returns the first whose last
// bounding box overlaps bbox above the threshold. First match wins; this is
// deliberately not a globally optimal assignment.
func (r *IdentityReconciler) FindContinuation(bbox parking.BBox, tracks []Track, excludeID int) (Continuation, bool) {
	for _, tr := range tracks {
		if tr.ID == excludeID {
			continue
		}
		if iou := tr.BBox.IoU(bbox); iou > r.threshold {
			return Continuation{OldID: tr.ID, IoU: iou}, true
		}
	}
	return Continuation{}, false
}
