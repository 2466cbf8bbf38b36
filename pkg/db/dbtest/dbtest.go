// Package dbtest 为仓储与应用层测试提供内存 SQLite 数据库
package dbtest

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New 打开一个独立的内存数据库并迁移给定模型。
// 内存库只存在于单个连接上，所以连接池固定为 1，事务内的查询必须经由 db.Conn(ctx)。
func New(t testing.TB, models ...any) *db.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, gdb.AutoMigrate(models...))
	}
	return db.New(gdb)
}
