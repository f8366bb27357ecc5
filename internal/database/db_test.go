package database

import (
	"path/filepath"
	"testing"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupCreatesTables(t *testing.T) {
	original := DB
	defer func() { DB = original }()

	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "nested", "test.db")

	require.NoError(t, Setup(cfg, logrus.New()))
	defer Close()

	assert.True(t, MustDB().Migrator().HasTable(&models.ProcessedFile{}))
	assert.True(t, MustDB().Migrator().HasTable(&models.ScanRun{}))
}

func TestSetupRejectsUnknownType(t *testing.T) {
	err := Setup(&Config{Type: "oracle", DSN: "x"}, logrus.New())
	assert.Error(t, err)
}

func TestMustDBPanicsWithoutSetup(t *testing.T) {
	original := DB
	defer func() { DB = original }()

	DB = nil
	assert.Panics(t, func() { MustDB() })
}

func TestSetupSingleConnectionInMemory(t *testing.T) {
	original := DB
	defer func() { DB = original }()

	cfg := &Config{Type: "sqlite", DSN: "file:setup_test?mode=memory&cache=shared"}
	require.NoError(t, Setup(cfg, logrus.New()))
	defer Close()

	sqlDB, err := MustDB().DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}
