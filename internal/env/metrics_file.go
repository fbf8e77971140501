package env

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
)

// MetricsFile declares the known metrics of an edge node and its devices.
//
//	metrics:
//	  - name: temp
//	    type: Float
//	    value: 20.5
//	devices:
//	  - id: pump
//	    metrics:
//	      - name: rpm
//	        type: Int32
type MetricsFile struct {
	Metrics []MetricDef `yaml:"metrics"`
	Devices []DeviceDef `yaml:"devices"`
}

type MetricDef struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"`
	Value       interface{} `yaml:"value"`
	Alias       *uint64     `yaml:"alias"`
	Description string      `yaml:"description"`
	ContentType string      `yaml:"content_type"`
}

type DeviceDef struct {
	ID      string      `yaml:"id"`
	Metrics []MetricDef `yaml:"metrics"`
}

func LoadMetricsFile(path string) (*MetricsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Configuration("env.LoadMetricsFile", err)
	}

	return ParseMetricsFile(raw)
}

func ParseMetricsFile(raw []byte) (*MetricsFile, error) {
	const op = "env.ParseMetricsFile"

	var f MetricsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, pkgerrors.Configuration(op, err)
	}

	f.applyDefaults()
	if err := f.validate(); err != nil {
		return nil, pkgerrors.Configuration(op, err)
	}

	return &f, nil
}

func (f *MetricsFile) applyDefaults() {
	for i := range f.Metrics {
		f.Metrics[i].applyDefaults()
	}

	for i := range f.Devices {
		for j := range f.Devices[i].Metrics {
			f.Devices[i].Metrics[j].applyDefaults()
		}
	}
}

func (f *MetricsFile) validate() error {
	if _, err := Known(f.Metrics); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, d := range f.Devices {
		if d.ID == "" {
			return fmt.Errorf("device without id")
		}

		if seen[d.ID] {
			return fmt.Errorf("device '%s' declared twice", d.ID)
		}
		seen[d.ID] = true

		if _, err := Known(d.Metrics); err != nil {
			return fmt.Errorf("device '%s': %w", d.ID, err)
		}
	}

	return nil
}

func (d *MetricDef) applyDefaults() {
	if d.Type == "" {
		d.Type = metric.String.String()
	}
}

// Metric converts the definition, coercing the value to the declared type.
func (d MetricDef) Metric() (metric.Metric, error) {
	dt, err := metric.ParseDataType(d.Type)
	if err != nil {
		return metric.Metric{}, fmt.Errorf("metric '%s': %w", d.Name, err)
	}

	value, err := metric.Coerce(dt, d.Value)
	if err != nil {
		return metric.Metric{}, fmt.Errorf("metric '%s': %w", d.Name, err)
	}

	m := metric.New(d.Name, dt, value)

	if d.Alias != nil {
		m = m.WithAlias(*d.Alias)
	}

	if d.Description != "" || d.ContentType != "" {
		m = m.WithMetaData(metric.MetaData{ContentType: d.ContentType, Description: d.Description})
	}

	return m, m.Validate()
}

// Known converts a list of definitions.
func Known(defs []MetricDef) ([]metric.Metric, error) {
	out := make([]metric.Metric, 0, len(defs))

	for _, d := range defs {
		m, err := d.Metric()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	// reject duplicates
	if _, err := metric.NewRegistry(out...); err != nil {
		return nil, err
	}

	return out, nil
}
