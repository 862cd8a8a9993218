package domain

// Pattern is a learned transformation or procedure, formed from two or
// more episodes of the same inferred task type and merged (never
// duplicated) when re-learned under the same Name.
type Pattern struct {
	ID               PatternID   `json:"id"`
	WorkspaceID      WorkspaceID `json:"workspace_id"`
	PatternType      string      `json:"pattern_type"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	BeforeState      string      `json:"before_state,omitempty"`
	AfterState       string      `json:"after_state,omitempty"`
	Transformation   string      `json:"transformation,omitempty"`
	TimesApplied     int         `json:"times_applied"`
	SuccessRate      float64     `json:"success_rate"`
	ExampleEpisodes  []EpisodeID `json:"example_episodes,omitempty"`
	CreatedAt        int64       `json:"created_at"`
	UpdatedAt        int64       `json:"updated_at"`
}

// ProcedureStep is one step of a Procedure, ranked by how often it recurred
// across the episode group it was learned from. A step seen in at least
// half the group (ceil(|group|/2)) is Required; the rest are Optional.
type ProcedureStep struct {
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
}

// Procedure is derived from a group of episodes sharing one TaskType. It is
// the synthesized output of learn_from_episodes (spec 4.4) and is looked up
// by TaskType rather than by ID.
type Procedure struct {
	TaskType        string          `json:"task_type"`
	Steps           []ProcedureStep `json:"steps"`
	RequiredContext []string        `json:"required_context"`
	TypicalQueries  []string        `json:"typical_queries"`
	SuccessRate     float64         `json:"success_rate"`
	AverageTokens   float64         `json:"average_tokens"`
	CommonPitfalls  []string        `json:"common_pitfalls"`
	EpisodeCount    int             `json:"episode_count"`
	UpdatedAt       int64           `json:"updated_at"`
}
