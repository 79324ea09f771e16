package txntable

import (
	"container/heap"
)

// UndoHeap is a max-heap of descriptors ordered by undo_nxt, the order
// reverse-chronological Undo drains doomed transactions in: always
// process the largest undo_nxt next so a compensation's XidPrev link
// is followed strictly backwards across every transaction at once,
// never revisiting an LSN twice. Ties break on tid, lower first.
//
// A descriptor whose undo_nxt is null (single-log system transactions,
// forced per the sys-xct undo-skip rule) is never pushed at all.
//
// UndoHeap implements container/heap.Interface directly; use PushDesc
// and PopDesc rather than calling heap.Push/heap.Pop on it.
type UndoHeap struct {
	items []*Descriptor
}

func NewUndoHeap() *UndoHeap {
	return &UndoHeap{}
}

// PushDesc adds d to the heap if it has undoable work remaining.
func (h *UndoHeap) PushDesc(d *Descriptor) {
	if d.SysXct || d.UndoNxt.IsNull() {
		return
	}
	heap.Push(h, d)
}

// PopDesc removes and returns the descriptor with the largest
// undo_nxt, or nil if the heap is empty.
func (h *UndoHeap) PopDesc() *Descriptor {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Descriptor)
}

// Peek returns the descriptor with the largest undo_nxt without
// removing it, or nil if the heap is empty. Reverse-chronological Undo
// uses this to read the second-place descriptor's undo_nxt as a
// rollback floor after popping the top one.
func (h *UndoHeap) Peek() *Descriptor {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}

// Repush re-inserts d after its undo_nxt has been advanced backward by
// a completed CLR, keeping the heap ordered for the next pop. Callers
// must update d.UndoNxt before calling this.
func (h *UndoHeap) Repush(d *Descriptor) {
	if !d.UndoNxt.IsNull() {
		heap.Push(h, d)
	}
}

func (h *UndoHeap) Len() int { return len(h.items) }

// Less reports whether i should sort before j in heap order. Because
// container/heap implements a min-heap, "sorts before" here means
// "has the larger undo_nxt" to get max-heap behavior out of it.
func (h *UndoHeap) Less(i, j int) bool {
	a, b := h.items[i].UndoNxt, h.items[j].UndoNxt
	if a == b {
		return h.items[i].Tid < h.items[j].Tid
	}
	return b.Less(a)
}

func (h *UndoHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *UndoHeap) Push(x any) {
	h.items = append(h.items, x.(*Descriptor))
}

func (h *UndoHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}
