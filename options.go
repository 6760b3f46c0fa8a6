package mindcore

import (
	"time"

	"mindcore/internal/config"
	"mindcore/internal/store"
)

// Summarizer re-exports the epoch summarizer contract.
type Summarizer = store.Summarizer

// Option customizes cortex construction.
type Option func(*settings)

type settings struct {
	configPath    string
	embed         EmbedFunc
	summarizer    Summarizer
	bootTimeout   time.Duration
	configMutator func(*config.Config)
}

func defaultSettings() *settings {
	return &settings{
		bootTimeout: 30 * time.Second,
		summarizer:  store.HeadTailSummarizer,
	}
}

// WithConfigFile loads configuration from a YAML file before applying the
// connection string and remaining options.
func WithConfigFile(path string) Option {
	return func(s *settings) { s.configPath = path }
}

// WithEmbedder provides the external embedding function used by knowledge
// distillation and vector ingestion.
func WithEmbedder(fn EmbedFunc) Option {
	return func(s *settings) { s.embed = fn }
}

// WithSummarizer replaces the default head/tail epoch summarizer, typically
// with an LLM-backed condenser.
func WithSummarizer(fn Summarizer) Option {
	return func(s *settings) { s.summarizer = fn }
}

// WithBootTimeout bounds initialization (pragmas plus bootstrap DDL).
func WithBootTimeout(d time.Duration) Option {
	return func(s *settings) { s.bootTimeout = d }
}

// WithVectorDimensions overrides the embedding dimension before bootstrap.
func WithVectorDimensions(d int) Option {
	return func(s *settings) {
		s.chainMutator(func(c *config.Config) { c.Agentic.Vector.Dimensions = d })
	}
}

// WithLogging enables logging at the given level.
func WithLogging(level string) Option {
	return func(s *settings) {
		s.chainMutator(func(c *config.Config) {
			c.Logging.Enabled = true
			c.Logging.Level = level
		})
	}
}

// WithAutoIndex toggles automatic application of high-priority index
// recommendations during the reindex ritual.
func WithAutoIndex(enabled bool) Option {
	return func(s *settings) {
		s.chainMutator(func(c *config.Config) { c.Automation.AutoIndex = enabled })
	}
}

// WithEvolution tunes the pilot's knobs in one call.
func WithEvolution(verificationWindow int, aggressiveness float64, maxSandbox int) Option {
	return func(s *settings) {
		s.chainMutator(func(c *config.Config) {
			c.Agentic.Evolution.VerificationWindow = verificationWindow
			c.Agentic.Evolution.MutationAggressiveness = aggressiveness
			c.Agentic.Evolution.MaxSandboxSkills = maxSandbox
		})
	}
}

func (s *settings) chainMutator(fn func(*config.Config)) {
	prev := s.configMutator
	s.configMutator = func(c *config.Config) {
		if prev != nil {
			prev(c)
		}
		fn(c)
	}
}
