package domain

// ScreeningConfig is the tunable surface of the scoring engine. It is an
// explicit value threaded into the engine constructor rather than ambient
// package-level state, so per-tenant configuration stays deterministic
// under parallel batch runs.
type ScreeningConfig struct {
	// Duplicate thresholds
	DuplicateScoreThreshold float64 `json:"duplicateScoreThreshold"` // isDuplicate cutoff
	BlockDuplicateScore     float64 `json:"blockDuplicateScore"`     // HIGH, block until reviewed
	AutoBlockDuplicateScore float64 `json:"autoBlockDuplicateScore"` // CRITICAL, auto-block

	// Anomaly / velocity
	AnomalyStdDeviationThreshold float64 `json:"anomalyStdDeviationThreshold"`
	AnomalyScoreReviewThreshold  float64 `json:"anomalyScoreReviewThreshold"`
	VelocityIncreaseThreshold    float64 `json:"velocityIncreaseThreshold"`

	// Forced review, regardless of score
	RequireReviewAbove         int64    `json:"requireReviewAbove,omitempty"` // minor units, 0 = disabled
	RequireReviewForCategories []string `json:"requireReviewForCategories,omitempty"`

	// Audit behavior
	LogAllChecks         bool `json:"logAllChecks"`
	RetainAlertsForYears int  `json:"retainAlertsForYears"`

	// Pattern classifier tuning
	Pattern PatternWeights `json:"pattern"`
}

// PatternWeights holds the empirically chosen pattern-classifier constants.
// They are preserved as configurable defaults pending calibration against
// real data; none of them has a cited derivation.
type PatternWeights struct {
	RoundAmountModulus int64   `json:"roundAmountModulus"` // minor units
	RoundAmountRatio   float64 `json:"roundAmountRatio"`   // ratio triggering +RoundAmountWeight

	EndOfMonthDays      int     `json:"endOfMonthDays"`
	EndOfMonthSpikePct  float64 `json:"endOfMonthSpikePct"`
	YearEndDays         int     `json:"yearEndDays"`
	YearEndSpikePct     float64 `json:"yearEndSpikePct"`
	CategoryDominance   float64 `json:"categoryDominance"`
	MerchantConcHigh    float64 `json:"merchantConcHigh"`
	AccelerationFactor  float64 `json:"accelerationFactor"`

	RoundAmountWeight int `json:"roundAmountWeight"`
	YearEndWeight     int `json:"yearEndWeight"`
	EndOfMonthWeight  int `json:"endOfMonthWeight"`
	MerchantWeight    int `json:"merchantWeight"`
	CategoryWeight    int `json:"categoryWeight"`
	HighRiskCutoff    int `json:"highRiskCutoff"`
}

// DefaultScreeningConfig returns the conservative engine defaults.
func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		DuplicateScoreThreshold:      0.6,
		BlockDuplicateScore:          0.75,
		AutoBlockDuplicateScore:      0.95,
		AnomalyStdDeviationThreshold: 2.0,
		AnomalyScoreReviewThreshold:  0.8,
		VelocityIncreaseThreshold:    1.5,
		LogAllChecks:                 true,
		RetainAlertsForYears:         10,
		Pattern:                      DefaultPatternWeights(),
	}
}

// DefaultPatternWeights returns the pattern classifier defaults.
func DefaultPatternWeights() PatternWeights {
	return PatternWeights{
		RoundAmountModulus: 5000,
		RoundAmountRatio:   0.5,
		EndOfMonthDays:     5,
		EndOfMonthSpikePct: 0.30, // expected ~0.16
		YearEndDays:        14,
		YearEndSpikePct:    0.15, // expected ~0.038
		CategoryDominance:  0.70,
		MerchantConcHigh:   0.80,
		AccelerationFactor: 2.0,
		RoundAmountWeight:  2,
		YearEndWeight:      3,
		EndOfMonthWeight:   2,
		MerchantWeight:     2,
		CategoryWeight:     1,
		HighRiskCutoff:     4,
	}
}

// Config holds the complete Kestrel service configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure defaults, not engine semantics.
	Tier Tier `json:"tier"`

	Screening ScreeningConfig `json:"screening"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:      TierCommunity,
		Screening: DefaultScreeningConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
