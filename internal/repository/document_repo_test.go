package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) DocumentRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&DocumentRow{}))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewDocumentRepository(db)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	fields := map[string]any{"name": "general", "members": []any{"alice"}}
	require.NoError(t, repo.Set(ctx, "chat-rooms", "general", fields, false))

	row, err := repo.Get(ctx, "chat-rooms", "general")
	require.NoError(t, err)
	require.Equal(t, "general", row.DocID)
	require.Equal(t, "general", row.Fields["name"])
}

func TestGetMissingDocument(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "chat-rooms", "ghost")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSetMergePreservesSiblingFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{
		"display_name": "Alice",
		"online":       false,
	}, false))
	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"online": true}, true))

	row, err := repo.Get(ctx, "users", "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", row.Fields["display_name"])
	require.Equal(t, true, row.Fields["online"])
}

func TestSetWithoutMergeReplacesDocument(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"display_name": "Alice"}, false))
	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"online": true}, false))

	row, err := repo.Get(ctx, "users", "alice")
	require.NoError(t, err)
	require.NotContains(t, row.Fields, "display_name")
}

func TestSetDottedPathCreatesNestedMaps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"display_name": "Alice"}, false))
	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"last_read.general": "2026-08-29T10:00:00Z"}, true))
	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"last_read.random": "2026-08-29T11:00:00Z"}, true))

	row, err := repo.Get(ctx, "users", "alice")
	require.NoError(t, err)
	lastRead, ok := row.Fields["last_read"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "2026-08-29T10:00:00Z", lastRead["general"])
	require.Equal(t, "2026-08-29T11:00:00Z", lastRead["random"])
}

func TestUpdateMissingDocument(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Update(context.Background(), "users", "ghost", map[string]any{"online": true})
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAddToSetIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "chat-rooms", "general", map[string]any{"members": []any{"alice"}}, false))
	require.NoError(t, repo.AddToSet(ctx, "chat-rooms", "general", "members", "bob"))
	require.NoError(t, repo.AddToSet(ctx, "chat-rooms", "general", "members", "bob"))

	row, err := repo.Get(ctx, "chat-rooms", "general")
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"alice", "bob"}, row.Fields["members"])
}

func TestRemoveFromSetLeavesOthers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "chat-rooms", "general", map[string]any{"members": []any{"alice", "bob"}}, false))
	require.NoError(t, repo.RemoveFromSet(ctx, "chat-rooms", "general", "members", "alice"))
	require.NoError(t, repo.RemoveFromSet(ctx, "chat-rooms", "general", "members", "carol"))

	row, err := repo.Get(ctx, "chat-rooms", "general")
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"bob"}, row.Fields["members"])
}

func TestSetMutationOnNestedPath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "chat-rooms/general/messages", "m1", map[string]any{
		"content":   "react here",
		"reactions": map[string]any{},
	}, false))
	require.NoError(t, repo.AddToSet(ctx, "chat-rooms/general/messages", "m1", "reactions.👍", "alice"))
	require.NoError(t, repo.AddToSet(ctx, "chat-rooms/general/messages", "m1", "reactions.🎉", "bob"))
	require.NoError(t, repo.RemoveFromSet(ctx, "chat-rooms/general/messages", "m1", "reactions.👍", "alice"))

	row, err := repo.Get(ctx, "chat-rooms/general/messages", "m1")
	require.NoError(t, err)
	reactions, ok := row.Fields["reactions"].(map[string]any)
	require.True(t, ok)
	require.Empty(t, reactions["👍"])
	require.ElementsMatch(t, []any{"bob"}, reactions["🎉"])
	require.Equal(t, "react here", row.Fields["content"])
}

func TestAddToSetMissingDocument(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.AddToSet(context.Background(), "chat-rooms", "ghost", "members", "alice")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestListScopedToCollection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "chat-rooms", "general", map[string]any{"name": "general"}, false))
	require.NoError(t, repo.Set(ctx, "chat-rooms", "random", map[string]any{"name": "random"}, false))
	require.NoError(t, repo.Set(ctx, "users", "alice", map[string]any{"display_name": "Alice"}, false))

	rows, err := repo.List(ctx, "chat-rooms")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestDeleteMissingDocumentIsNoError(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Delete(context.Background(), "chat-rooms", "ghost"))
}
