// Package lockfile reads and writes Cargo.lock documents. Decoding goes
// through go-toml; encoding is hand rolled because the on-disk format
// must be byte-identical across runs and the original tool's block
// layout is not reproducible with a generic marshaler.
package lockfile

import (
	"sort"
	"strconv"
	"strings"

	"freight.build/freight/internal/core/domain"
)

const header = `# This file is automatically @generated by Cargo.
# It is not intended for manual editing.
`

// Encode serializes a resolve in the stable lockfile layout: packages
// sorted by identity, dependency lists sorted by name, minimal dependency
// spellings.
func Encode(resolve *domain.Resolve) []byte {
	ids := resolve.PackageIDs()

	// Count name and name+version occurrences so dependency entries can
	// use the shortest unambiguous spelling.
	nameCount := make(map[domain.InternedString]int, len(ids))
	versionCount := make(map[string]int, len(ids))
	for _, id := range ids {
		nameCount[id.InternedName()]++
		versionCount[id.Name()+" "+id.Version().String()]++
	}

	depSpelling := func(id domain.PackageID) string {
		if nameCount[id.InternedName()] == 1 {
			return id.Name()
		}
		short := id.Name() + " " + id.Version().String()
		if versionCount[short] == 1 {
			return short
		}
		return short + " (" + id.Source().String() + ")"
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("version = ")
	b.WriteString(strconv.Itoa(resolve.Version()))
	b.WriteString("\n")

	for _, id := range ids {
		b.WriteString("\n[[package]]\n")
		b.WriteString("name = \"" + id.Name() + "\"\n")
		b.WriteString("version = \"" + id.Version().String() + "\"\n")
		if !id.Source().IsPath() {
			b.WriteString("source = \"" + id.Source().String() + "\"\n")
		}
		if sum := resolve.Checksum(id); sum != "" {
			b.WriteString("checksum = \"" + sum + "\"\n")
		}

		deps := resolve.Deps(id)
		if len(deps) == 0 {
			continue
		}
		spellings := make([]string, 0, len(deps))
		for _, dep := range deps {
			spellings = append(spellings, depSpelling(dep.ID))
		}
		sort.Strings(spellings)

		b.WriteString("dependencies = [\n")
		for _, spelling := range spellings {
			b.WriteString(" \"" + spelling + "\",\n")
		}
		b.WriteString("]\n")
	}
	return []byte(b.String())
}
