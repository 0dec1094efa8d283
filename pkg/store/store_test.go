package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/protocol"
)

func sampleResponse(id string) *protocol.Response {
	return &protocol.Response{
		ID:        id,
		Object:    "response",
		CreatedAt: 1724000000,
		Status:    protocol.StatusCompleted,
		Model:     "gpt-test",
	}
}

func sampleItems(ids ...string) []protocol.InputItem {
	items := make([]protocol.InputItem, len(ids))
	for i, id := range ids {
		items[i] = protocol.InputItem{
			ID:      id,
			Type:    protocol.ItemTypeMessage,
			Role:    "user",
			Content: []protocol.ContentPart{{Type: protocol.ContentTypeInputText, Text: "hello " + id}},
		}
	}
	return items
}

func TestNewDispatch(t *testing.T) {
	s, err := New(&config.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(&config.StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(&config.StoreConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(&config.StoreConfig{Type: "redis"})
	assert.Error(t, err)

	_, err = New(&config.StoreConfig{Type: "sqlite"})
	assert.Error(t, err, "sqlite requires a path")
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "resp_missing")
	assert.Equal(t, protocol.ErrNotFound, protocol.KindOf(err))

	require.NoError(t, s.Store(ctx, sampleResponse("resp_1"), sampleItems("it_1", "it_2")))

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, "resp_1", got.ID)
	assert.Equal(t, protocol.StatusCompleted, got.Status)

	deleted, err := s.Delete(ctx, "resp_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "resp_1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{})
	assert.Equal(t, protocol.ErrNotFound, protocol.KindOf(err))
}

func TestMemoryStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Store(ctx, sampleResponse("resp_1"), sampleItems("it_1")))
	updated := sampleResponse("resp_1")
	updated.Status = protocol.StatusIncomplete
	require.NoError(t, s.Store(ctx, updated, sampleItems("it_1", "it_2")))

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusIncomplete, got.Status)

	list, err := s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{})
	require.NoError(t, err)
	assert.Len(t, list.Data, 2)
}

func TestListInputItemsPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Store(ctx, sampleResponse("resp_1"),
		sampleItems("it_1", "it_2", "it_3", "it_4", "it_5")))

	// Default order is newest first.
	list, err := s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "list", list.Object)
	assert.Equal(t, "it_5", list.Data[0].ID)
	assert.Equal(t, "it_4", list.Data[1].ID)
	assert.Equal(t, "it_5", list.FirstID)
	assert.Equal(t, "it_4", list.LastID)
	assert.True(t, list.HasMore)

	// Resume after the cursor.
	list, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{
		Limit: 2, After: "it_4",
	})
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "it_3", list.Data[0].ID)
	assert.Equal(t, "it_2", list.Data[1].ID)
	assert.True(t, list.HasMore)

	// Last page.
	list, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{
		Limit: 2, After: "it_2",
	})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "it_1", list.Data[0].ID)
	assert.False(t, list.HasMore)

	// Ascending with a before cursor.
	list, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{
		Order: protocol.OrderAsc, Before: "it_3",
	})
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "it_1", list.Data[0].ID)
	assert.Equal(t, "it_2", list.Data[1].ID)
	assert.False(t, list.HasMore)

	// Crossed cursors produce an empty page, not an error.
	list, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{
		Order: protocol.OrderAsc, After: "it_4", Before: "it_2",
	})
	require.NoError(t, err)
	assert.Empty(t, list.Data)
	assert.Empty(t, list.FirstID)
	assert.False(t, list.HasMore)
}

func TestEnsureItemIDs(t *testing.T) {
	items := []protocol.InputItem{
		{Type: protocol.ItemTypeMessage, Role: "user"},
		{Type: protocol.ItemTypeFunctionCall, Name: "lookup"},
		{Type: protocol.ItemTypeFunctionCallOutput, CallID: "call_1"},
		{Type: protocol.ItemTypeReasoning},
		{ID: "it_keep", Type: protocol.ItemTypeMessage},
	}

	out := ensureItemIDs(items)

	assert.True(t, strings.HasPrefix(out[0].ID, "msg_"))
	assert.True(t, strings.HasPrefix(out[1].ID, "fc_"))
	assert.True(t, strings.HasPrefix(out[2].ID, "fco_"))
	assert.True(t, strings.HasPrefix(out[3].ID, "rs_"))
	assert.Equal(t, "it_keep", out[4].ID)

	// The input slice is left untouched.
	assert.Empty(t, items[0].ID)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "responses.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	resp := sampleResponse("resp_1")
	resp.Output = []protocol.OutputItem{{
		ID:     "msg_1",
		Type:   protocol.ItemTypeMessage,
		Role:   "assistant",
		Status: protocol.StatusCompleted,
	}}
	require.NoError(t, s.Store(ctx, resp, sampleItems("it_1", "it_2")))

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	assert.Equal(t, resp.ID, got.ID)
	require.Len(t, got.Output, 1)
	assert.Equal(t, "msg_1", got.Output[0].ID)

	list, err := s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{Order: protocol.OrderAsc})
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "it_1", list.Data[0].ID)

	// Re-storing replaces the item set.
	require.NoError(t, s.Store(ctx, resp, sampleItems("it_3")))
	list, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "it_3", list.Data[0].ID)

	deleted, err := s.Delete(ctx, "resp_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, "resp_1")
	assert.Equal(t, protocol.ErrNotFound, protocol.KindOf(err))

	_, err = s.ListInputItems(ctx, "resp_1", protocol.ListInputItemsOptions{})
	assert.Equal(t, protocol.ErrNotFound, protocol.KindOf(err))
}
