package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jackzampolin/papershelf/internal/captions"
)

// migrateDir holds the rewritten resources of a migration until they are
// committed. Its manifest is written last and marks the staging as complete.
const migrateDir = ".migrate"

// ErrMigrating marks a document directory whose migration was interrupted
// while committing. Running Migrate again finishes it.
var ErrMigrating = errors.New("schema migration in progress")

// MigrateStats reports what Migrate changed.
type MigrateStats struct {
	Pages    int  `json:"pages" yaml:"pages"`
	Captions int  `json:"captions" yaml:"captions"`
	Skipped  bool `json:"skipped" yaml:"skipped"`
	Resumed  bool `json:"resumed,omitempty" yaml:"resumed,omitempty"`
}

// Migrate rewrites an inline-caption document in place into the sidecar
// schema: every trailing caption is cut from the page text and stored in the
// page's sidecar. Documents already in the sidecar schema are left alone.
//
// All rewritten files are staged first. The document is only touched once the
// staging is complete, and an interrupted commit is finished by the next call.
func Migrate(dir string) (MigrateStats, error) {
	var stats MigrateStats
	staging := filepath.Join(dir, migrateDir)

	if m, err := ReadManifest(staging); err == nil {
		if err := commit(dir, staging); err != nil {
			return stats, err
		}
		stats.Pages = m.Pages
		stats.Resumed = true
		return stats, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return stats, err
	}

	// Staging without a manifest was abandoned before the commit started.
	if err := os.RemoveAll(staging); err != nil {
		return stats, err
	}

	schema, err := DetectSchema(dir)
	if err != nil {
		return stats, err
	}
	if schema == SchemaSidecar {
		stats.Skipped = true
		return stats, nil
	}

	stats, err = stage(dir, staging)
	if err != nil {
		os.RemoveAll(staging)
		return stats, err
	}
	return stats, commit(dir, staging)
}

// stage writes the migrated text and sidecar of every page into staging,
// followed by the staging manifest.
func stage(dir, staging string) (MigrateStats, error) {
	var stats MigrateStats

	l, err := list(dir)
	if err != nil {
		return stats, err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return stats, fmt.Errorf("failed to create staging dir: %w", err)
	}

	media := 0
	for i, path := range l.texts {
		text, err := os.ReadFile(path)
		if err != nil {
			return stats, err
		}
		body, caps := captions.Split(string(text))

		sidecar, err := encodeSidecar(caps)
		if err != nil {
			return stats, fmt.Errorf("page %d: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(staging, SidecarName(i)), sidecar, 0o644); err != nil {
			return stats, fmt.Errorf("failed to stage sidecar for page %d: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(staging, TextName(i)), []byte(body), 0o644); err != nil {
			return stats, fmt.Errorf("failed to stage page %d: %w", i, err)
		}
		stats.Pages++
		stats.Captions += len(caps)
		media += len(l.media[i])
	}

	if err := writeManifest(staging, SchemaSidecar, stats.Pages, media); err != nil {
		return stats, err
	}
	return stats, nil
}

// commit moves staged files over the document. The old manifest goes first
// and the staged one last, so a reader never sees a manifest next to a
// half-migrated page set. commit may be repeated after a crash.
func commit(dir, staging string) error {
	if err := os.Remove(filepath.Join(dir, ManifestName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == ManifestName {
			continue
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to commit %s: %w", e.Name(), err)
		}
	}

	if err := os.Rename(filepath.Join(staging, ManifestName), filepath.Join(dir, ManifestName)); err != nil {
		return fmt.Errorf("failed to commit %s: %w", ManifestName, err)
	}
	return os.RemoveAll(staging)
}
