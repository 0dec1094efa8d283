// Package store persists finished responses with their ordered input items.
// Attachment is optional; the orchestrator tolerates running without one.
package store

import (
	"context"
	"fmt"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/protocol"
)

// Store is the narrow persistence interface the orchestrator consults.
// Writes are at-least-once; a read may miss a just-completed write.
type Store interface {
	Store(ctx context.Context, response *protocol.Response, inputItems []protocol.InputItem) error
	Get(ctx context.Context, id string) (*protocol.Response, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListInputItems(ctx context.Context, id string, opts protocol.ListInputItemsOptions) (*protocol.InputItemList, error)
	Close() error
}

// New builds the configured store. Type "none" returns nil: persistence
// disabled.
func New(cfg *config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "memory", "":
		return NewMemoryStore(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store type %q (supported: sqlite, memory, none)", cfg.Type)
	}
}

// ensureItemIDs assigns ids to items that arrived without one, so cursor
// listing has something to anchor on.
func ensureItemIDs(items []protocol.InputItem) []protocol.InputItem {
	out := make([]protocol.InputItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = protocol.NewItemID(itemIDPrefix(out[i].Type))
		}
	}
	return out
}

func itemIDPrefix(itemType string) string {
	switch itemType {
	case protocol.ItemTypeFunctionCall:
		return "fc"
	case protocol.ItemTypeFunctionCallOutput:
		return "fco"
	case protocol.ItemTypeReasoning:
		return "rs"
	default:
		return "msg"
	}
}

// pageItems applies order and after/before cursors over the full stored
// sequence (items arrive in append order).
func pageItems(items []protocol.InputItem, opts protocol.ListInputItemsOptions) *protocol.InputItemList {
	opts = opts.Clamp()

	ordered := make([]protocol.InputItem, len(items))
	copy(ordered, items)
	if opts.Order == protocol.OrderDesc {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	start := 0
	if opts.After != "" {
		for i, item := range ordered {
			if item.ID == opts.After {
				start = i + 1
				break
			}
		}
	}
	end := len(ordered)
	if opts.Before != "" {
		for i, item := range ordered {
			if item.ID == opts.Before {
				end = i
				break
			}
		}
	}
	if start > end {
		start = end
	}

	window := ordered[start:end]
	hasMore := len(window) > opts.Limit
	if hasMore {
		window = window[:opts.Limit]
	}

	list := &protocol.InputItemList{
		Object:  "list",
		Data:    window,
		HasMore: hasMore,
	}
	if len(window) > 0 {
		list.FirstID = window[0].ID
		list.LastID = window[len(window)-1].ID
	}
	return list
}
