// Package testutil 测试用数据库、Redis 和数据构造器
package testutil

import (
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/database"
	"github.com/qs3c/aigc_server/internal/model"
)

// SetupTestDB 默认使用 SQLite 内存库
// 设置 TEST_DATABASE_DRIVER 和 TEST_DATABASE_DSN 后改用真实数据库，已有数据会被清空
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}
	if driver := os.Getenv("TEST_DATABASE_DRIVER"); driver != "" {
		cfg = config.DatabaseConfig{Driver: driver, DSN: os.Getenv("TEST_DATABASE_DSN")}
	}

	db, err := database.Open(&cfg)
	require.NoError(t, err, "open %s test database", cfg.Driver)
	db = db.Session(&gorm.Session{Logger: logger.Discard})

	require.NoError(t, database.AutoMigrate(db))
	if cfg.Driver != "sqlite" {
		truncate(t, db)
	}
	return db
}

// truncate 逆序清表，子表先于 users
func truncate(t *testing.T, db *gorm.DB) {
	t.Helper()
	models := model.All()
	for i := len(models) - 1; i >= 0; i-- {
		err := db.Unscoped().Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(models[i]).Error
		require.NoError(t, err)
	}
}

// CleanupTestDB 关闭连接
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("get underlying db: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		t.Logf("close test db: %v", err)
	}
}

// SetupTestRedis 启动 miniredis，测试结束时自动关闭
func SetupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}
