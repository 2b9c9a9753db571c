package zone

// lcase and ucase are the AppleTalk uppercase fold table from spec.md §6
// (Inside AppleTalk Appendix D): the 26 ASCII letters plus a handful of
// MacRoman-specific accented characters, each mapped to its uppercase
// counterpart. Any byte not present in lcase passes through unchanged.
var (
	lcase = []byte("abcdefghijklmnopqrstuvwxyz\x88\x8A\x8B\x8C\x8D\x8E\x96\x9A\x9B\x9F\xBE\xBF\xCF")
	ucase = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ\xCB\x80\xCC\x81\x82\x83\x84\x85\xCD\x86\xAE\xAF\xCE")
)

func foldByte(b byte) byte {
	for i, l := range lcase {
		if l == b {
			return ucase[i]
		}
	}
	return b
}

// Fold upper-cases a zone name under the AppleTalk fold table (spec.md
// §6), exported so callers outside this package (ZIP's GetNetInfo zone
// match, for instance) can compare zone names the same way the table
// does internally.
func Fold(name string) string {
	return fold(name)
}

// fold upper-cases a zone name under the AppleTalk fold table, used as the
// key for the table's case-insensitive namespace.
func fold(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		out[i] = foldByte(name[i])
	}
	return string(out)
}
