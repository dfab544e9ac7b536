package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	DBPath   string

	// SandboxRoot is where per-run python working directories are created.
	SandboxRoot string
	PythonBin   string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string

	NotebookStepLimit     int
	PresentationStepLimit int
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("DATALAB_DATA_DIR", "data")
	return Config{
		HTTPAddr:    getEnv("DATALAB_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      getEnv("DATALAB_DB_PATH", filepath.Join(dataDir, "datalab.db")),
		SandboxRoot: getEnv("DATALAB_SANDBOX_ROOT", filepath.Join(os.TempDir(), "datalab-sandbox")),
		PythonBin:   getEnv("DATALAB_PYTHON_BIN", "python3"),

		LLMProvider: getEnv("DATALAB_LLM_PROVIDER", "openai-responses"),
		LLMModel:    getEnv("DATALAB_LLM_MODEL", ""),
		LLMAPIKey:   getEnv("DATALAB_LLM_API_KEY", ""),

		NotebookStepLimit:     getEnvInt("DATALAB_NOTEBOOK_STEP_LIMIT", 20),
		PresentationStepLimit: getEnvInt("DATALAB_PRESENTATION_STEP_LIMIT", 15),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
