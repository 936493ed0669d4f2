// Package cmd holds the camss subcommands.
package cmd

import (
	"errors"
	"io/fs"

	"github.com/smazurov/camss/internal/config"
)

// loadPipeline reads path, or returns the built-in pipeline when path does
// not exist and was not set explicitly.
func loadPipeline(path string, explicit bool) (config.Pipeline, bool, error) {
	p, err := config.LoadPipeline(path)
	if err == nil {
		return p, false, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.DefaultPipeline(), true, nil
	}
	return config.Pipeline{}, false, err
}
