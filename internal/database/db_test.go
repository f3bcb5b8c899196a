package database

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-engine/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Config{DBUser: "app", DBPass: "s3cret", DBHost: "db", DBPort: "3306", DBName: "auction"})

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "app", mc.User)
	require.Equal(t, "s3cret", mc.Passwd)
	require.Equal(t, "db:3306", mc.Addr)
	require.Equal(t, "auction", mc.DBName)
	require.True(t, mc.ParseTime)
	require.Equal(t, "UTC", mc.Loc.String())
}
