package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// APIBaseURL is the root of the host CMS, e.g. http://localhost:3000;
	// collections are served under {base}/api/{slug}.
	APIBaseURL string `yaml:"api_base_url"`
	APIToken   string `yaml:"api_token"`
	// Collection slugs differ per installation, so the save path's
	// collection targeting is explicit configuration rather than detection.
	CommentsCollection string        `yaml:"comments_collection"`
	UsersCollection    string        `yaml:"users_collection"`
	Author             string        `yaml:"author"`
	HTTPTimeout        time.Duration `yaml:"-"`
}

func Load() Config {
	cfg := Config{
		APIBaseURL:         getenv("MARGINALIA_API_URL", "http://localhost:3000"),
		APIToken:           getenv("MARGINALIA_API_TOKEN", ""),
		CommentsCollection: getenv("MARGINALIA_COMMENTS_COLLECTION", "comments"),
		UsersCollection:    getenv("MARGINALIA_USERS_COLLECTION", "users"),
		Author:             getenv("MARGINALIA_AUTHOR", ""),
		HTTPTimeout:        time.Duration(getenvInt("MARGINALIA_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
	}
	cfg.applyFile(getenv("MARGINALIA_CONFIG", ".marginalia.yaml"))
	return cfg
}

// applyFile overlays non-empty values from an optional YAML file. A missing
// file is fine; a malformed one is ignored rather than fatal, since env
// configuration alone is complete.
func (c *Config) applyFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return
	}
	if file.APIBaseURL != "" {
		c.APIBaseURL = file.APIBaseURL
	}
	if file.APIToken != "" {
		c.APIToken = file.APIToken
	}
	if file.CommentsCollection != "" {
		c.CommentsCollection = file.CommentsCollection
	}
	if file.UsersCollection != "" {
		c.UsersCollection = file.UsersCollection
	}
	if file.Author != "" {
		c.Author = file.Author
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
