package store

import (
	"io/fs"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"

	"kiritara/api/db"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(db.Migrations(), ".")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.Falsef(t, byVersion[version][direction], "duplicate %s migration file for version %s", direction, version)
		byVersion[version][direction] = true
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		require.Truef(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func TestMigrationSourceReadsEveryVersion(t *testing.T) {
	src, err := iofs.New(db.Migrations(), ".")
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	var versions []uint
	version, err := src.First()
	for err == nil {
		versions = append(versions, version)
		version, err = src.Next(version)
	}
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.Equal(t, []uint{1, 2}, versions)
}
