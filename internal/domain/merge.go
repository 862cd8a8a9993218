package domain

// MergeStrategy selects how the Merge Engine resolves divergent paths.
type MergeStrategy string

const (
	StrategyAutoMerge     MergeStrategy = "AutoMerge"
	StrategyThreeWay      MergeStrategy = "ThreeWay"
	StrategyPreferSession MergeStrategy = "PreferSession"
	StrategyPreferMain    MergeStrategy = "PreferMain"
	StrategyManual        MergeStrategy = "Manual"
)

// ConflictType classifies why a path could not be auto-resolved.
type ConflictType string

const (
	ConflictTextOverlap     ConflictType = "TextOverlap"
	ConflictSignatureChange ConflictType = "SignatureChange"
	ConflictDependencyBreak ConflictType = "DependencyBreak"
	ConflictDeletionVsEdit  ConflictType = "DeletionVsEdit"
	ConflictRenameVsEdit    ConflictType = "RenameVsEdit"
)

// Conflict is one unresolved (or retained-on-purpose) path from a merge.
type Conflict struct {
	Path         string       `json:"path"`
	ConflictType ConflictType `json:"conflict_type"`
	Detail       string       `json:"detail,omitempty"`
}

// VerificationResult is the outcome of a merge's post-hoc semantic check.
type VerificationResult struct {
	Passed              bool     `json:"passed"`
	DanglingDependencies []string `json:"dangling_dependencies,omitempty"`
	MissingExports      []string `json:"missing_exports,omitempty"`
}

// MergeResult is the output of Engine.Merge.
type MergeResult struct {
	Success        bool                `json:"success"`
	ChangesApplied []string            `json:"changes_applied"`
	ChangesRejected []string           `json:"changes_rejected"`
	Conflicts      []Conflict          `json:"conflicts"`
	DurationMs     int64               `json:"duration_ms"`
	Verification   VerificationResult  `json:"verification"`
}
