package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/testutil"
)

func setupDocumentService(t *testing.T) (*DocumentService, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	return NewDocumentService(repository.NewContentRepository(db), repository.NewImageRepository(db)), db
}

func TestDocumentService_ListAndGet(t *testing.T) {
	svc, db := setupDocumentService(t)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)

	testutil.TestContent(t, db, user.ID, testutil.WithTitle("Go tips"), testutil.WithFavorite())
	testutil.TestContent(t, db, user.ID, testutil.WithTitle("Ad copy"), testutil.WithTemplate("ad-copy", "ads"))
	flagged := testutil.TestContent(t, db, user.ID, testutil.WithTitle("Flagged"), testutil.WithFlagged("spam"))
	foreign := testutil.TestContent(t, db, other.ID)

	items, total, err := svc.List(user.ID, &dto.DocumentListQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 3)

	items, total, err = svc.List(user.ID, &dto.DocumentListQuery{Category: "ads"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "Ad copy", items[0].Title)

	fav := true
	items, _, err = svc.List(user.ID, &dto.DocumentListQuery{Favorite: &fav})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Go tips", items[0].Title)

	items, _, err = svc.List(user.ID, &dto.DocumentListQuery{Sort: "title"})
	require.NoError(t, err)
	assert.Equal(t, "Ad copy", items[0].Title)

	// 被标记的文档对作者仍然可见
	detail, err := svc.Get(user.ID, flagged.ID)
	require.NoError(t, err)
	assert.True(t, detail.Flagged)
	assert.Equal(t, "spam", detail.FlagReason)
	assert.JSONEq(t, `{"topic":"go"}`, string(detail.Inputs))

	_, err = svc.Get(user.ID, foreign.ID)
	assert.ErrorIs(t, err, ErrContentPermission)

	_, err = svc.Get(user.ID, 99999)
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestDocumentService_Update(t *testing.T) {
	svc, db := setupDocumentService(t)
	user := testutil.TestUser(t, db)
	doc := testutil.TestContent(t, db, user.ID)

	title := "  New title "
	body := "hello brave new world 你好世界"
	detail, err := svc.Update(user.ID, doc.ID, &dto.UpdateDocumentRequest{Title: &title, Content: &body})
	require.NoError(t, err)
	assert.Equal(t, "New title", detail.Title)
	assert.Equal(t, 8, detail.WordCount)

	blank := "   "
	_, err = svc.Update(user.ID, doc.ID, &dto.UpdateDocumentRequest{Title: &blank})
	assert.Error(t, err)
}

func TestDocumentService_FavoriteAndDelete(t *testing.T) {
	svc, db := setupDocumentService(t)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	doc := testutil.TestContent(t, db, user.ID)

	require.NoError(t, svc.SetFavorite(user.ID, doc.ID, true))
	detail, err := svc.Get(user.ID, doc.ID)
	require.NoError(t, err)
	assert.True(t, detail.IsFavorite)

	assert.ErrorIs(t, svc.Delete(other.ID, doc.ID), ErrContentPermission)
	require.NoError(t, svc.Delete(user.ID, doc.ID))

	_, err = svc.Get(user.ID, doc.ID)
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestDocumentService_Stats(t *testing.T) {
	svc, db := setupDocumentService(t)
	user := testutil.TestUser(t, db)

	testutil.TestContent(t, db, user.ID, testutil.WithBody("a b c d", 4), testutil.WithFavorite())
	testutil.TestContent(t, db, user.ID, testutil.WithBody("a b", 2), testutil.WithTemplate("ad-copy", "ads"))
	testutil.TestImage(t, db, user.ID, model.ImageCompleted)

	stats, err := svc.Stats(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Documents)
	assert.Equal(t, int64(6), stats.Words)
	assert.Equal(t, int64(1), stats.Favorites)
	assert.Equal(t, int64(2), stats.CreditsUsed)
	assert.Equal(t, int64(1), stats.Images)
	assert.Equal(t, map[string]int64{"blog": 1, "ads": 1}, stats.ByCategory)
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello world", 2},
		{"  one,two;three  ", 3},
		{"你好世界", 4},
		{"Go 语言 rocks!", 4},
		{"version 1.24 released", 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, countWords(tt.in), tt.in)
	}
}
