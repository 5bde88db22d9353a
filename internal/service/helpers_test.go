package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/repository"
)

const testInputID = "pansy"

var testNow = time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC)

type testRepos struct {
	channels repository.ChannelRepository
	programs repository.ProgramRepository
}

func setupRepos(t *testing.T) testRepos {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Channel{}, &models.Program{}))
	return testRepos{
		channels: repository.NewChannelRepository(db),
		programs: repository.NewProgramRepository(db),
	}
}

func seedChannel(t *testing.T, repos testRepos, number int, name, streamURL string) *models.Channel {
	t.Helper()
	ch := &models.Channel{
		InputID:           testInputID,
		OriginalNetworkID: number,
		DisplayName:       name,
		StreamURL:         streamURL,
	}
	require.NoError(t, repos.channels.Upsert(context.Background(), ch))
	return ch
}
