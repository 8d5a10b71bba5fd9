package memory

// Tunables collects the empirically chosen constants of the scoring and
// retrieval heuristics. None of them is load-bearing for correctness; they
// shape how eagerly the system stores and surfaces. Override per System via
// WithTunables.
type Tunables struct {
	// BaseSalience is the starting point for every salience score.
	BaseSalience float64

	// CorrectionSalience floors semantic records in the "correction"
	// category.
	CorrectionSalience float64

	// PositiveOutcomeSalience and NegativeOutcomeSalience floor procedural
	// records by outcome. Learning from failure is worth nearly as much as
	// learning from success.
	PositiveOutcomeSalience float64
	NegativeOutcomeSalience float64

	// IdentitySalience is the fixed salience of identity records.
	IdentitySalience float64

	// DuplicateThreshold is the similarity above which a candidate is
	// considered a near-duplicate and not worth remembering.
	DuplicateThreshold float64

	// LateralThreshold gates which primary results seed lateral expansion
	// and which neighbors are kept.
	LateralThreshold float64

	// ClusterThreshold is the pairwise similarity for folding a record into
	// a cluster seed.
	ClusterThreshold float64
}

// DefaultTunables are the values the heuristics were tuned with.
var DefaultTunables = Tunables{
	BaseSalience:            0.5,
	CorrectionSalience:      0.6,
	PositiveOutcomeSalience: 0.7,
	NegativeOutcomeSalience: 0.6,
	IdentitySalience:        0.8,
	DuplicateThreshold:      0.95,
	LateralThreshold:        0.6,
	ClusterThreshold:        0.55,
}
