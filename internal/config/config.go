package config

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/randomtoy/chess-arena/internal/llm"
)

// Config holds application configuration read from environment variables.
type Config struct {
	Port        string
	DatabaseURL string
	Debug       bool

	// EnginePath is resolved once here and handed to every engine process.
	// Empty when no engine binary could be found.
	EnginePath string

	MaxConcurrentMatches int
	ReaperInterval       time.Duration
	StaleAfter           time.Duration

	// RateLimit is match creations per second per client; 0 disables it.
	RateLimit float64
	RateBurst int

	LLM llm.Config

	ArchiveBucket   string
	ArchiveEndpoint string
}

// fallbackEnginePaths are tried, in order, after STOCKFISH_PATH and $PATH.
var fallbackEnginePaths = []string{
	"/usr/games/stockfish",
	"/usr/local/bin/stockfish",
	"/opt/homebrew/bin/stockfish",
}

var ErrEngineNotFound = errors.New("stockfish binary not found")

// Load reads configuration from the environment, after loading a .env file
// when one exists, with sensible defaults.
func Load() *Config {
	_ = godotenv.Load()

	enginePath, _ := ResolveEnginePath(os.Getenv("STOCKFISH_PATH"))

	return &Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Debug:       getbool("ARENA_DEBUG"),
		EnginePath:  enginePath,

		MaxConcurrentMatches: getint("ARENA_MAX_CONCURRENT_MATCHES", 4),
		ReaperInterval:       getduration("ARENA_REAPER_INTERVAL", time.Minute),
		StaleAfter:           getduration("ARENA_STALE_AFTER", 30*time.Minute),

		RateLimit: getfloat("ARENA_RATE_LIMIT", 0.5),
		RateBurst: getint("ARENA_RATE_BURST", 5),

		LLM: llm.Config{
			Provider: getenv("LLM_PROVIDER", llm.ProviderOpenAI),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
			Timeout:  getduration("LLM_TIMEOUT", 60*time.Second),
		},

		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),
	}
}

// ResolveEnginePath returns explicit when set, else the first stockfish
// found on $PATH or in the usual install locations.
func ResolveEnginePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p, err := exec.LookPath("stockfish"); err == nil {
		return p, nil
	}
	for _, p := range fallbackEnginePaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrEngineNotFound
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f >= 0 {
		return f
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func getbool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
