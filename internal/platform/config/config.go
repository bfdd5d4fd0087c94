package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxEvidenceFrames is the hard cap on retained face-scan evidence frames.
const MaxEvidenceFrames = 10

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string

	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	Blob       BlobConfig
	Detector   DetectorConfig
	Submission SubmissionConfig
	Document   DocumentConfig
	Engine     EngineConfig
	RateLimit  RateLimitConfig
}

// RedisConfig configures the optional Redis connection used for receipts and
// the detection cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the optional decision-record archive.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
}

// KafkaConfig configures the optional event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// BlobConfig configures evidence blob storage. Empty means in-memory.
type BlobConfig struct {
	AzureConnectionString string
	Container             string
}

// DetectorConfig configures the remote feature detector.
type DetectorConfig struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// SubmissionConfig configures the external review boundary.
type SubmissionConfig struct {
	URL     string
	Timeout time.Duration
}

// DocumentConfig configures the external document check boundary.
type DocumentConfig struct {
	URL     string
	Timeout time.Duration
}

// RateLimitConfig sets per-user request quotas. A zero limit disables a rule.
type RateLimitConfig struct {
	StartLimit  int
	StartWindow time.Duration
	FrameLimit  int
	FrameWindow time.Duration
}

// EngineConfig holds the tunables of the challenge and scoring engine.
// Thresholds live here so they can change without a code change.
type EngineConfig struct {
	LivenessThreshold float64
	QualityThreshold  float64
	NeutralQuality    float64

	ChallengeDuration time.Duration
	GracePeriod       time.Duration
	SampleRate        int

	ScanStepDuration time.Duration
	EvidenceStride   int
	EvidenceCap      int

	SessionTTL   time.Duration
	MaxFrameSide int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          getenv("LIVECHECK_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:     getenv("JWT_ISSUER", "livecheck"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getenvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getenvInt("DATABASE_MAX_OPEN_CONNS", 10),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_TOPIC", "livecheck.verification-events"),
		},
		Blob: BlobConfig{
			AzureConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
			Container:             getenv("EVIDENCE_CONTAINER", "verification-evidence"),
		},
		Detector: DetectorConfig{
			URL:      os.Getenv("DETECTOR_URL"),
			Timeout:  getenvDuration("DETECTOR_TIMEOUT", 500*time.Millisecond),
			CacheTTL: getenvDuration("DETECTOR_CACHE_TTL", time.Minute),
		},
		Submission: SubmissionConfig{
			URL:     os.Getenv("SUBMISSION_URL"),
			Timeout: getenvDuration("SUBMISSION_TIMEOUT", 30*time.Second),
		},
		Document: DocumentConfig{
			URL:     os.Getenv("DOCUMENT_CHECK_URL"),
			Timeout: getenvDuration("DOCUMENT_CHECK_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			LivenessThreshold: getenvFloat("LIVENESS_THRESHOLD", 70),
			QualityThreshold:  getenvFloat("QUALITY_THRESHOLD", 60),
			NeutralQuality:    getenvFloat("NEUTRAL_QUALITY", 75),
			ChallengeDuration: getenvDuration("CHALLENGE_DURATION", 5*time.Second),
			GracePeriod:       getenvDuration("CHALLENGE_GRACE_PERIOD", time.Second),
			SampleRate:        getenvInt("SAMPLE_RATE", 30),
			ScanStepDuration:  getenvDuration("SCAN_STEP_DURATION", 2*time.Second),
			EvidenceStride:    getenvInt("EVIDENCE_STRIDE", 10),
			EvidenceCap:       getenvInt("EVIDENCE_CAP", MaxEvidenceFrames),
			SessionTTL:        getenvDuration("SESSION_TTL", 15*time.Minute),
			MaxFrameSide:      getenvInt("MAX_FRAME_SIDE", 4096),
		},
		RateLimit: RateLimitConfig{
			StartLimit:  getenvInt("RATE_LIMIT_STARTS", 10),
			StartWindow: getenvDuration("RATE_LIMIT_STARTS_WINDOW", time.Hour),
			FrameLimit:  getenvInt("RATE_LIMIT_FRAMES", 60),
			FrameWindow: getenvDuration("RATE_LIMIT_FRAMES_WINDOW", time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Server) validate() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY not set")
	}
	if c.Detector.URL == "" {
		return fmt.Errorf("DETECTOR_URL not set")
	}
	e := &c.Engine
	if e.LivenessThreshold < 0 || e.LivenessThreshold > 100 {
		return fmt.Errorf("LIVENESS_THRESHOLD must be within [0,100], got %v", e.LivenessThreshold)
	}
	if e.QualityThreshold < 0 || e.QualityThreshold > 100 {
		return fmt.Errorf("QUALITY_THRESHOLD must be within [0,100], got %v", e.QualityThreshold)
	}
	if e.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive")
	}
	if e.EvidenceCap <= 0 || e.EvidenceCap > MaxEvidenceFrames {
		e.EvidenceCap = MaxEvidenceFrames
	}
	if e.EvidenceStride <= 0 {
		e.EvidenceStride = 10
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
