package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/vin"
)

// Pipeline is the capture topology read from pipeline.toml.
type Pipeline struct {
	Engines []EngineSpec `toml:"engines"`
	Lines   []LineSpec   `toml:"lines"`
}

// EngineSpec describes a capture engine.
type EngineSpec struct {
	ID           string `toml:"id"`
	SettleFrames int    `toml:"settle_frames"`
}

// LineSpec describes a line and its active format.
type LineSpec struct {
	ID      int    `toml:"id"`
	Name    string `toml:"name"`
	Engine  string `toml:"engine"`
	Channel string `toml:"channel"`
	Layout  string `toml:"layout"`
	Width   int    `toml:"width"`
	Height  int    `toml:"height"`
	Code    string `toml:"code"`
}

// DefaultPipeline returns the two-line layout: the raw write path on the
// vin engine and the processed path on the isp engine.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Engines: []EngineSpec{{ID: "vin"}, {ID: "isp"}},
		Lines: []LineSpec{
			{ID: 0, Name: "wr", Engine: "vin", Channel: "raw", Layout: "raw", Width: 1920, Height: 1080, Code: "SRGGB10"},
			{ID: 1, Name: "isp0", Engine: "isp", Channel: "yuv", Layout: "yuv", Width: 1920, Height: 1080, Code: "NV12"},
		},
	}
}

// LoadPipeline reads and validates a pipeline file. Unknown keys are errors.
func LoadPipeline(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline: %w", err)
	}
	var p Pipeline
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Pipeline{}, fmt.Errorf("parse pipeline %s: %s", path, strict.String())
		}
		return Pipeline{}, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, fmt.Errorf("pipeline %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the pipeline by building its topology and formats. Every
// problem found is reported.
func (p Pipeline) Validate() error {
	if _, err := p.Topology(); err != nil {
		return err
	}
	var errs []error
	for _, l := range p.Lines {
		f := vin.Format{Width: l.Width, Height: l.Height, Code: l.Code}
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", l.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Topology converts the pipeline into a device topology.
func (p Pipeline) Topology() (vin.Topology, error) {
	var topo vin.Topology
	var errs []error

	for _, e := range p.Engines {
		topo.Engines = append(topo.Engines, vin.EngineConfig{ID: e.ID, SettleFrames: e.SettleFrames})
	}
	for _, l := range p.Lines {
		ch, err := hw.ParseChannel(l.Channel)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", l.Name, err))
		}
		layout, err := vin.ParseLayout(l.Layout)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %s: %w", l.Name, err))
		}
		topo.Lines = append(topo.Lines, vin.LineConfig{
			ID:      l.ID,
			Name:    l.Name,
			Engine:  l.Engine,
			Channel: ch,
			Layout:  layout,
		})
	}
	if len(errs) > 0 {
		return vin.Topology{}, errors.Join(errs...)
	}
	if err := topo.Validate(); err != nil {
		return vin.Topology{}, err
	}
	return topo, nil
}

// Formats returns the active format of every line keyed by line ID.
func (p Pipeline) Formats() vin.FormatTable {
	t := make(vin.FormatTable, len(p.Lines))
	for _, l := range p.Lines {
		t[l.ID] = vin.Format{Width: l.Width, Height: l.Height, Code: l.Code}
	}
	return t
}
