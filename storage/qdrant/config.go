package qdrant

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds connection and collection settings for the chunk store.
type Config struct {
	// Hostname of the Qdrant server, e.g. "localhost".
	Host string `yaml:"host"`

	// gRPC port of the Qdrant server. Defaults to 6334.
	Port int `yaml:"port"`

	// Optional authentication token for secured deployments.
	APIKey string `yaml:"api_key"`

	UseTLS bool `yaml:"use_tls"`

	// Collection holding the chunks.
	Collection string `yaml:"collection"`

	// Dimension is the embedding size the collection is created with.
	Dimension int `yaml:"dimension"`

	// RecreateOnMismatch drops and recreates a collection whose vector size
	// differs from Dimension. Without it a mismatch is an error.
	RecreateOnMismatch bool `yaml:"recreate_on_mismatch"`
}

// DefaultConfig returns settings for a local Qdrant.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       6334,
		Collection: "documents",
		Dimension:  768,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("qdrant host is required"))
	}
	if c.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid qdrant port %d", c.Port))
	}
	if strings.TrimSpace(c.Collection) == "" {
		errs = append(errs, errors.New("qdrant collection is required"))
	}
	if c.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("invalid vector dimension %d", c.Dimension))
	}
	return errors.Join(errs...)
}
