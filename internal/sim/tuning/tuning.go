package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	WorldID string `yaml:"world_id"`
	Seed    int64  `yaml:"seed"`

	TickIntervalMs     int `yaml:"tick_interval_ms"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	QueueCapacity      int `yaml:"queue_capacity"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("world.yaml: %w", err)
	}
	return t.withDefaults(), nil
}

func (t Tuning) withDefaults() Tuning {
	if t.WorldID == "" {
		t.WorldID = "world_1"
	}
	if t.TickIntervalMs <= 0 {
		t.TickIntervalMs = 5000
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 120
	}
	if t.QueueCapacity <= 0 {
		t.QueueCapacity = 4096
	}
	return t
}
