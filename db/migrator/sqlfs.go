package migrator

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

var (
	fileNameRx = regexp.MustCompile(
		`^([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})-([\w-]+)\.(up|down)\.sql$`)
	headerRx = regexp.MustCompile(`^--\s*([a-z]+)\s*:\s*(.*)$`)
)

// IrreversibleMarker is the content of a down script for a migration that
// can't be reverted.
const IrreversibleMarker = "-- irreversible"

type sqlFile struct {
	name string
	up   []byte
	down []byte
	// hasDown is set if a down file exists, even an empty one.
	hasDown bool
}

// LoadMigrations reads SQL migrations from the root directory of fsys.
//
// Migration files are named {uuid}-{name}.up.sql and {uuid}-{name}.down.sql.
// The up script may start with header comments:
//
//	-- depends: <uuid>, <uuid>
//	-- description: Add the accounts table
//
// A migration without a down file, or whose down file only contains
// "-- irreversible", is irreversible. Migrations are returned sorted by file
// name, which is the order they should be registered in.
func LoadMigrations(fsys fs.FS) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	files := map[uuid.UUID]*sqlFile{}
	var merr *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		match := fileNameRx.FindStringSubmatch(entry.Name())
		if match == nil {
			merr = multierror.Append(merr,
				fmt.Errorf("invalid migration file name '%s'", entry.Name()))
			continue
		}
		id, err := uuid.Parse(match[1])
		if err != nil {
			merr = multierror.Append(merr,
				fmt.Errorf("invalid migration ID in file name '%s': %w", entry.Name(), err))
			continue
		}

		f, ok := files[id]
		if !ok {
			f = &sqlFile{name: match[2]}
			files[id] = f
		} else if f.name != match[2] {
			merr = multierror.Append(merr,
				fmt.Errorf("migration %s has files with different names: '%s' and '%s'",
					id, f.name, match[2]))
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			merr = multierror.Append(merr,
				fmt.Errorf("failed reading migration file '%s': %w", entry.Name(), err))
			continue
		}
		if match[3] == "up" {
			f.up = data
		} else {
			f.down = data
			f.hasDown = true
		}
	}
	if err = merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(
			fmt.Sprintf("%s-%s", a, files[a].name), fmt.Sprintf("%s-%s", b, files[b].name))
	})

	migrations := make([]*Migration, 0, len(ids))
	for _, id := range ids {
		m, err := parseSQLMigration(id, files[id])
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		migrations = append(migrations, m)
	}
	if err = merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return migrations, nil
}

func parseSQLMigration(id uuid.UUID, f *sqlFile) (*Migration, error) {
	if f.up == nil {
		return nil, fmt.Errorf("migration %s (%s) has no up file", id, f.name)
	}

	m := &Migration{
		ID:          id,
		Description: strings.NewReplacer("_", " ", "-", " ").Replace(f.name),
		Up:          Exec(string(f.up)),
		Checksum:    Checksum(f.up),
	}

	scanner := bufio.NewScanner(strings.NewReader(string(f.up)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		match := headerRx.FindStringSubmatch(line)
		if match == nil {
			// Headers end at the first line that isn't one.
			break
		}
		switch match[1] {
		case "depends":
			for _, s := range strings.Split(match[2], ",") {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				dep, err := uuid.Parse(s)
				if err != nil {
					return nil, fmt.Errorf("migration %s has invalid dependency '%s': %w", id, s, err)
				}
				m.Dependencies = append(m.Dependencies, dep)
			}
		case "description":
			if desc := strings.TrimSpace(match[2]); desc != "" {
				m.Description = desc
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading headers of migration %s: %w", id, err)
	}

	if !f.hasDown || strings.TrimSpace(string(f.down)) == IrreversibleMarker {
		m.Irreversible = true
	} else {
		m.Down = Exec(string(f.down))
	}

	return m, nil
}

// Checksum returns the hex-encoded SHA-256 digest of a migration script.
func Checksum(script []byte) string {
	sum := sha256.Sum256(script)
	return hex.EncodeToString(sum[:])
}
