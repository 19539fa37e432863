// Package grouping implements the tree mutations over feedback items:
// attaching an item under a parent, detaching an item back into a column,
// and deleting an item with cascade. Items are only ever addressed by id
// through the item storage; the parent pointer and the parent's child list
// are kept symmetric by every operation.
//
// The operations are not transactional: each affected document is persisted
// with an independent write. When a later write fails after earlier ones
// succeeded, the returned Result carries the documents that were persisted
// and the error is reported alongside; no compensation is attempted. Callers
// re-fetch and reconcile on the next load.
package grouping

import (
	"context"
	"errors"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
)

var ErrSelfParent = errors.New("an item cannot be grouped under itself")
var ErrNestedParent = errors.New("target parent is itself a child of another item")
var ErrHasVotes = errors.New("items with active votes cannot be deleted")

// Engine performs grouping mutations through the item storage.
type Engine struct {
	items storage.FeedbackItemStorage
}

func NewEngine(items storage.FeedbackItemStorage) *Engine {
	return &Engine{items: items}
}

// Result lists every document an operation persisted, in write order, so the
// caller can broadcast each one. DeletedID is set by CascadeDelete.
type Result struct {
	Updated   []*storage.FeedbackItem
	DeletedID string
}

// AttachAsChild groups child under parent. The parent must not itself be a
// child of another item. If the child already had a parent it is detached
// from it first, and if the child has children of its own they are flattened
// onto the new parent so grouping never nests deeper than one level. The
// child and every reparented grandchild take the parent's column.
func (e *Engine) AttachAsChild(ctx context.Context, boardID, parentID, childID string) (*Result, error) {
	if parentID == childID {
		return nil, ErrSelfParent
	}

	parent, err := e.items.Get(ctx, boardID, parentID)
	if err != nil {
		return nil, err
	}
	child, err := e.items.Get(ctx, boardID, childID)
	if err != nil {
		return nil, err
	}
	if parent.ParentID != "" {
		return nil, ErrNestedParent
	}

	res := &Result{}

	// Detach from the previous parent before re-homing.
	if child.ParentID != "" && child.ParentID != parentID {
		oldParent, err := e.items.Get(ctx, boardID, child.ParentID)
		if err != nil {
			return nil, err
		}
		oldParent.ChildIDs = remove(oldParent.ChildIDs, childID)
		if err := e.items.Update(ctx, oldParent); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, oldParent)
	}

	// Flatten: grandchildren become direct children of the new parent.
	for _, id := range child.ChildIDs {
		grandchild, err := e.items.Get(ctx, boardID, id)
		if err != nil {
			logging.Log.Errorf("GROUP: missing grandchild %s of %s: %v", id, childID, err)
			return res, err
		}
		grandchild.ParentID = parentID
		grandchild.ColumnID = parent.ColumnID
		if err := e.items.Update(ctx, grandchild); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, grandchild)
		parent.ChildIDs = append(parent.ChildIDs, id)
	}

	child.ParentID = parentID
	child.ColumnID = parent.ColumnID
	child.ChildIDs = nil
	if err := e.items.Update(ctx, child); err != nil {
		return res, err
	}
	res.Updated = append(res.Updated, child)

	if !contains(parent.ChildIDs, childID) {
		parent.ChildIDs = append(parent.ChildIDs, childID)
	}
	if err := e.items.Update(ctx, parent); err != nil {
		return res, err
	}
	res.Updated = append(res.Updated, parent)

	return res, nil
}

// DetachToColumn moves an item into a column as an independent root item.
// A former parent loses the item from its child list. If the item keeps
// children of its own (a root being moved between columns), the column
// change cascades to every child.
func (e *Engine) DetachToColumn(ctx context.Context, boardID, itemID, newColumnID string) (*Result, error) {
	item, err := e.items.Get(ctx, boardID, itemID)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	if item.ParentID != "" {
		parent, err := e.items.Get(ctx, boardID, item.ParentID)
		if err != nil {
			return nil, err
		}
		parent.ChildIDs = remove(parent.ChildIDs, itemID)
		if err := e.items.Update(ctx, parent); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, parent)
	}

	if item.ColumnID != newColumnID {
		for _, id := range item.ChildIDs {
			child, err := e.items.Get(ctx, boardID, id)
			if err != nil {
				return res, err
			}
			child.ColumnID = newColumnID
			if err := e.items.Update(ctx, child); err != nil {
				return res, err
			}
			res.Updated = append(res.Updated, child)
		}
	}

	item.ParentID = ""
	item.ColumnID = newColumnID
	if err := e.items.Update(ctx, item); err != nil {
		return res, err
	}
	res.Updated = append(res.Updated, item)

	return res, nil
}

// CascadeDelete removes an item. Items carrying votes are rejected with
// ErrHasVotes. A former parent loses the item from its child list; children
// are orphaned back to independent root items, never deleted and never
// re-parented onto the deleted item's former parent.
func (e *Engine) CascadeDelete(ctx context.Context, boardID, itemID string) (*Result, error) {
	item, err := e.items.Get(ctx, boardID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Upvotes > 0 {
		return nil, ErrHasVotes
	}

	res := &Result{}

	if item.ParentID != "" {
		parent, err := e.items.Get(ctx, boardID, item.ParentID)
		if err != nil {
			return nil, err
		}
		parent.ChildIDs = remove(parent.ChildIDs, itemID)
		if err := e.items.Update(ctx, parent); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, parent)
	}

	for _, id := range item.ChildIDs {
		child, err := e.items.Get(ctx, boardID, id)
		if err != nil {
			return res, err
		}
		child.ParentID = ""
		if err := e.items.Update(ctx, child); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, child)
	}

	if err := e.items.Delete(ctx, boardID, itemID); err != nil {
		return res, err
	}
	res.DeletedID = itemID

	return res, nil
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
