package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&projectdomain.Project{}))
	return db
}

func TestFindByExternalIDMissingReturnsNil(t *testing.T) {
	repo := Provide(newTestDB(t))

	project, err := repo.FindByExternalID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, project)
}

func TestCreateAndSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := Provide(newTestDB(t))
	node, _ := snowflake.NewNode(1)

	project := &projectdomain.Project{
		ID:          node.Generate(),
		ExternalID:  "p1",
		Source:      projectdomain.SourceExternal,
		NetSeconds:  3600,
		ResourceIDs: []string{"r1"},
	}
	require.NoError(t, repo.Create(ctx, project))

	project.LinkResources([]string{"r1", "r2"})
	project.NetSeconds += 1800
	require.NoError(t, repo.Save(ctx, project))

	got, err := repo.FindByExternalID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"r1", "r2"}, []string(got.ResourceIDs))
	assert.Equal(t, 5400.0, got.NetSeconds)
	assert.False(t, got.Active)
	assert.Empty(t, got.MemberEmails)

	require.NoError(t, repo.SetActive(ctx, "p1", true))
	got, err = repo.FindByExternalID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestReplaceMembersOverwritesAndIgnoresUnknown(t *testing.T) {
	ctx := context.Background()
	repo := Provide(newTestDB(t))
	node, _ := snowflake.NewNode(1)

	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, repo.Create(ctx, &projectdomain.Project{
			ID:           node.Generate(),
			ExternalID:   id,
			Source:       projectdomain.SourceExternal,
			MemberEmails: []string{"old@example.com"},
		}))
	}

	err := repo.ReplaceMembers(ctx, map[string][]string{
		"p1":      {"a@example.com", "b@example.com"},
		"p2":      nil,
		"missing": {"c@example.com"},
	})
	require.NoError(t, err)

	projects, err := repo.ListBySource(ctx, projectdomain.SourceExternal)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, []string(projects[0].MemberEmails))
	assert.Empty(t, projects[1].MemberEmails)
}

func TestListByExternalIDs(t *testing.T) {
	ctx := context.Background()
	repo := Provide(newTestDB(t))
	node, _ := snowflake.NewNode(1)

	for _, id := range []string{"p3", "p1", "p2"} {
		require.NoError(t, repo.Create(ctx, &projectdomain.Project{
			ID:         node.Generate(),
			ExternalID: id,
			Source:     projectdomain.SourceInternal,
		}))
	}

	projects, err := repo.ListByExternalIDs(ctx, []string{"p2", "p3", "p9"})
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "p2", projects[0].ExternalID)
	assert.Equal(t, "p3", projects[1].ExternalID)

	none, err := repo.ListByExternalIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
