package app

import (
	"testing"

	"github.com/fiffu/uptimesync/config"
	"github.com/stretchr/testify/assert"
)

func TestDialector(t *testing.T) {
	cfg := config.NewStatic(nil, nil)

	for _, driver := range []string{"sqlite", "postgres"} {
		cfg.Database.Driver = driver
		cfg.Database.DSN = "uptimesync.sqlite"
		dial, err := dialector(cfg)
		assert.NoError(t, err, driver)
		assert.Equal(t, driver, dial.Name())
	}

	cfg.Database.Driver = "mysql"
	_, err := dialector(cfg)
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")
}
