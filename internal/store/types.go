package store

// MoleculeType is the atomizer strategy that produced a molecule.
type MoleculeType string

const (
	MoleculeProse    MoleculeType = "prose"
	MoleculeCode     MoleculeType = "code"
	MoleculeData     MoleculeType = "data"
	MoleculeFragment MoleculeType = "fragment"
)

// Provenance marks where a molecule's content came from.
type Provenance string

const (
	ProvenanceInternal   Provenance = "internal"
	ProvenanceExternal   Provenance = "external"
	ProvenanceQuarantine Provenance = "quarantine"
)

// Compound is an ingested document.
type Compound struct {
	ID             string
	SourcePath     string
	ContentHash    string
	LastIngestTS   int64
	TotalMolecules int
}

// Molecule is a byte-range within a compound, the unit of retrieval.
type Molecule struct {
	ID           string
	CompoundID   string
	Sequence     int
	StartByte    int
	EndByte      int
	Type         MoleculeType
	SimHash      uint64
	Embedding    []float32
	Timestamp    int64
	Buckets      []string
	Epochs       []string
	Tags         []string
	Provenance   Provenance
	NeedsReembed bool
}

// Edge is an undirected tag co-occurrence between two atoms.
// Invariant: AtomA < AtomB lexicographically, so each unordered pair maps
// to exactly one row.
type Edge struct {
	AtomA  string
	AtomB  string
	Weight int64
}

// NormalizeEdge orders a and b so the smaller string is always AtomA.
func NormalizeEdge(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
