package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"testing"
)

var migrationName = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)

// Versions must run 0001, 0002, ... with an up and a down file each.
func TestMigrationFilesArePairedAndContiguous(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pairs := map[int][]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		version, _ := strconv.Atoi(match[1])
		pairs[version] = append(pairs[version], match[2])
	}
	if len(pairs) == 0 {
		t.Fatal("no migrations found")
	}

	versions := make([]int, 0, len(pairs))
	for version := range pairs {
		versions = append(versions, version)
	}
	sort.Ints(versions)
	for i, version := range versions {
		if version != i+1 {
			t.Fatalf("expected version %04d, found %04d", i+1, version)
		}
		directions := pairs[version]
		sort.Strings(directions)
		if got := fmt.Sprint(directions); got != "[down up]" {
			t.Fatalf("version %04d has files %s, want one down and one up", version, got)
		}
	}
}
