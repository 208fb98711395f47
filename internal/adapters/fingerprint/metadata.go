package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"freight.build/freight/internal/core/domain"
)

// MetadataInputs are the non-source facts that flow into a unit's
// metadata hash. Sets are hashed order-independently, flag sequences in
// order.
type MetadataInputs struct {
	// CompilerID identifies the compiler binary and version, e.g. the
	// first line of `rustc -vV`.
	CompilerID string

	// Triple is the concrete compile target.
	Triple string

	// Cfgs are extra --cfg values from configuration or build scripts.
	Cfgs []string

	// ExtraFlags are additional compiler flags in command-line order.
	ExtraFlags []string

	// DepHashes are the metadata hashes of every dependency unit.
	DepHashes []uint64
}

// ComputeMetadata hashes the unit's own configuration together with the
// inputs. Equal hashes mean the unit would be compiled identically.
func ComputeMetadata(u *domain.Unit, in MetadataInputs) uint64 {
	h := xxhash.New()
	field(h, in.CompilerID)
	field(h, in.Triple)

	field(h, u.Pkg.ID.Name())
	field(h, u.Pkg.ID.Version().String())
	field(h, u.Pkg.ID.Source().String())
	field(h, u.Target.Kind.String())
	field(h, u.Target.Name.String())
	field(h, string(u.Target.Edition))
	for _, ct := range u.Target.CrateTypes {
		field(h, string(ct))
	}
	field(h, u.Mode.String())
	field(h, u.FeaturesKey())
	field(h, u.Artifact)
	profileFields(h, u.Profile)

	cfgs := append([]string(nil), in.Cfgs...)
	sort.Strings(cfgs)
	for _, c := range cfgs {
		field(h, c)
	}
	for _, f := range in.ExtraFlags {
		field(h, f)
	}

	deps := append([]uint64(nil), in.DepHashes...)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	var buf [8]byte
	for _, d := range deps {
		binary.BigEndian.PutUint64(buf[:], d)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// HashString renders a metadata hash the way fingerprints and unit
// directory suffixes spell it.
func HashString(hash uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], hash)
	return hex.EncodeToString(buf[:])
}

func field(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0})
}

func profileFields(h *xxhash.Digest, p domain.Profile) {
	field(h, p.Name)
	field(h, p.OptLevel)
	field(h, strconv.FormatUint(uint64(p.Debug), 10))
	field(h, strconv.FormatBool(p.DebugAssertions))
	field(h, strconv.FormatBool(p.OverflowChecks))
	field(h, string(p.Lto))
	field(h, strconv.FormatUint(uint64(p.CodegenUnits), 10))
	field(h, string(p.Panic))
	field(h, strconv.FormatBool(p.Incremental))
	field(h, p.Strip)
	field(h, strconv.FormatBool(p.Rpath))
}
