package config

// AgenticConfig configures the cognitive layer: table names, the vector
// store, and the evolution knobs.
type AgenticConfig struct {
	Vector VectorConfig `yaml:"vector"`

	SessionsTable   string `yaml:"sessions_table"`
	MessagesTable   string `yaml:"messages_table"`
	ActionsTable    string `yaml:"actions_table"`
	EpisodesTable   string `yaml:"episodes_table"`
	KnowledgeTable  string `yaml:"knowledge_table"`
	ResourcesTable  string `yaml:"resources_table"`

	Evolution EvolutionConfig `yaml:"evolution"`

	Distiller DistillerConfig `yaml:"distiller"`
}

// VectorConfig fixes the embedding dimension and backing table at init time.
type VectorConfig struct {
	Dimensions   int     `yaml:"dimensions"`
	Table        string  `yaml:"table"`
	Metric       string  `yaml:"metric"`        // l2 | cosine
	ScanCap      int     `yaml:"scan_cap"`      // linear-scan fallback bound
	DupThreshold float64 `yaml:"dup_threshold"` // distance at or below which facts merge
}

// EvolutionConfig tunes the evolutionary pilot and its meta-controller.
type EvolutionConfig struct {
	VerificationWindow     int     `yaml:"verification_window"`
	MutationAggressiveness float64 `yaml:"mutation_aggressiveness"`
	MaxSandboxSkills       int     `yaml:"max_sandbox_skills"`
	// EnableHiveLink is parsed for forward compatibility; the hive-link
	// extension is not part of this engine and the flag gates nothing yet.
	EnableHiveLink bool `yaml:"enable_hive_link"`
	// ZScoreThreshold is the magnitude of the negative z-score that
	// triggers a defensive regression response.
	ZScoreThreshold float64 `yaml:"zscore_threshold"`
	// WindowSize is the rolling outcome window length per ritual/skill.
	WindowSize int `yaml:"window_size"`
}

// DistillerConfig tunes knowledge dedup.
type DistillerConfig struct {
	BloomCapacity      uint    `yaml:"bloom_capacity"`
	BloomFalsePositive float64 `yaml:"bloom_false_positive"`
	// ChallengeAlpha is the initial blending weight of the old confidence;
	// it decays multiplicatively on repeated challenges of the same item.
	ChallengeAlpha      float64 `yaml:"challenge_alpha"`
	ChallengeAlphaDecay float64 `yaml:"challenge_alpha_decay"`
	ChallengeAlphaFloor float64 `yaml:"challenge_alpha_floor"`
}

// DefaultAgenticConfig returns the agentic defaults: 384-dim vectors, L2,
// bloom sized for a million facts at 1% false positives.
func DefaultAgenticConfig() AgenticConfig {
	return AgenticConfig{
		Vector: VectorConfig{
			Dimensions:   384,
			Table:        "agent_memory_vectors",
			Metric:       "l2",
			ScanCap:      10_000,
			DupThreshold: 0.15,
		},
		SessionsTable:  "agent_sessions",
		MessagesTable:  "agent_messages",
		ActionsTable:   "agent_actions",
		EpisodesTable:  "agent_episodes",
		KnowledgeTable: "agent_knowledge_base",
		ResourcesTable: "agent_resource_usage",
		Evolution: EvolutionConfig{
			VerificationWindow:     50,
			MutationAggressiveness: 0.3,
			MaxSandboxSkills:       4,
			ZScoreThreshold:        2.0,
			WindowSize:             50,
		},
		Distiller: DistillerConfig{
			BloomCapacity:       1_000_000,
			BloomFalsePositive:  0.01,
			ChallengeAlpha:      0.7,
			ChallengeAlphaDecay: 0.9,
			ChallengeAlphaFloor: 0.3,
		},
	}
}
