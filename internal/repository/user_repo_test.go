package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/testutil"
)

func TestUserRepository_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	created := testutil.TestUser(t, db)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Username, found.Username)
	assert.Equal(t, model.RoleUser, found.Role)

	_, err = repo.GetByID(99999)
	assert.Error(t, err)
}

func TestUserRepository_Lookups(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	testutil.TestUser(t, db, testutil.WithEmail("unique@example.com"), testutil.WithUsername("unique"))

	byEmail, err := repo.GetByEmail("unique@example.com")
	require.NoError(t, err)
	assert.Equal(t, "unique", byEmail.Username)

	byName, err := repo.GetByUsername("unique")
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID, byName.ID)

	exists, err := repo.ExistsByEmail("unique@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByUsername("nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepository_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	testutil.TestUser(t, db, testutil.WithUsername("alice"), testutil.WithPlan("pro"))
	testutil.TestUser(t, db, testutil.WithUsername("bob"), testutil.WithStatus(model.UserStatusBanned))
	testutil.TestUser(t, db, testutil.WithUsername("admin"), testutil.WithRole(model.RoleAdmin))

	users, total, err := repo.List(UserFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, users, 2)

	users, total, err = repo.List(UserFilter{Search: "ali"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "alice", users[0].Username)

	_, total, err = repo.List(UserFilter{Status: model.UserStatusBanned}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = repo.List(UserFilter{Role: model.RoleAdmin, Plan: "free"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestUserRepository_SignupPoints(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	now := time.Now()
	testutil.TestUser(t, db, testutil.WithCreatedAt(now.AddDate(0, 0, -2)))
	testutil.TestUser(t, db, testutil.WithCreatedAt(now.AddDate(0, 0, -40)))

	points, err := repo.SignupPoints(now.AddDate(0, 0, -7), now)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, float64(1), points[0].Value)
}

func TestUserRepository_SetPlanAndTouchLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	user := testutil.TestUser(t, db)

	require.NoError(t, repo.SetPlan(user.ID, "pro"))
	require.NoError(t, repo.TouchLogin(user.ID, time.Now()))

	found, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", found.Plan)
	assert.NotNil(t, found.LastLoginAt)
}

func TestUserRepository_ListSearchLiteral(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewUserRepository(db)
	testutil.TestUser(t, db, testutil.WithUsername("dev_ops"))
	testutil.TestUser(t, db, testutil.WithUsername("devXops"))
	testutil.TestUser(t, db, testutil.WithUsername("100%real"))

	tests := []struct {
		search string
		want   []string
	}{
		{"v_o", []string{"dev_ops"}},
		{"%", []string{"100%real"}},
		{"dev", []string{"dev_ops", "devXops"}},
		{"!", nil},
	}
	for _, tt := range tests {
		users, _, err := repo.List(UserFilter{Search: tt.search}, 1, 20)
		require.NoError(t, err)
		var names []string
		for _, u := range users {
			names = append(names, u.Username)
		}
		assert.ElementsMatch(t, tt.want, names, tt.search)
	}
}
