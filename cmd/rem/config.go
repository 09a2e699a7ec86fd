package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/rem/internal/model"
)

func loadConfig(path string) (*model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	config, err := model.LoadConfig(f)
	if err != nil {
		for i, d := range model.ConfigErrDetails(err) {
			logger.Error("invalid packet file", d.Attr(fmt.Sprintf("detail%d", i)))
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return config, nil
}

func writeConfig(path string, config model.Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		_ = f.Close()
		return fmt.Errorf("storing configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("storing configuration: %w", err)
	}
	return f.Close()
}
