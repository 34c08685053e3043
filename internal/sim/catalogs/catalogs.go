package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalogs holds the immutable world configuration: the region map and the
// resource/cost tables. Both carry content digests so a snapshot can record
// exactly which catalog versions produced it.
type Catalogs struct {
	Regions   RegionCatalog
	Resources ResourceCatalog
}

type RegionCatalog struct {
	Defs        []RegionDef
	ByID        map[string]RegionDef
	SpawnRegion string
	Digest      string
}

type RegionDef struct {
	ID                 string             `yaml:"id"`
	Name               string             `yaml:"name"`
	Description        string             `yaml:"description"`
	X                  float64            `yaml:"x"`
	Y                  float64            `yaml:"y"`
	ResourceMultiplier float64            `yaml:"resource_multiplier"`
	DangerLevel        float64            `yaml:"danger_level"`
	Capacity           int                `yaml:"capacity"`
	Pool               map[string]float64 `yaml:"pool"`
}

type ResourceCatalog struct {
	// Order is the canonical resource iteration order (sorted IDs); every
	// deterministic walk over resources uses it.
	Order  []string
	Defs   map[string]ResourceDef
	Costs  map[string]map[string]float64
	Rules  PhysicsRules
	Digest string
}

type ResourceDef struct {
	Cap     float64 `yaml:"cap"`
	Regen   float64 `yaml:"regen"`
	Initial float64 `yaml:"initial"`
}

// PhysicsRules are the tick-physics and cost-scaling constants.
type PhysicsRules struct {
	DangerDrainRate    float64 `yaml:"danger_drain_rate"`
	MoveDistanceFactor float64 `yaml:"move_distance_factor"`
	CommDistanceFactor float64 `yaml:"comm_distance_factor"`
	CommNoiseFactor    float64 `yaml:"comm_noise_factor"`
	CommNoiseCap       float64 `yaml:"comm_noise_cap"`
	ForkSplitFraction  float64 `yaml:"fork_split_fraction"`
}

type regionsFile struct {
	SpawnRegion string      `yaml:"spawn_region"`
	Regions     []RegionDef `yaml:"regions"`
}

type resourcesFile struct {
	Resources map[string]ResourceDef        `yaml:"resources"`
	Costs     map[string]map[string]float64 `yaml:"action_costs"`
	Rules     PhysicsRules                  `yaml:"rules"`
}

func Load(dir string) (*Catalogs, error) {
	regRaw, err := os.ReadFile(filepath.Join(dir, "regions.yaml"))
	if err != nil {
		return nil, fmt.Errorf("regions.yaml: %w", err)
	}
	var rf regionsFile
	if err := yaml.Unmarshal(regRaw, &rf); err != nil {
		return nil, fmt.Errorf("regions.yaml: %w", err)
	}
	if len(rf.Regions) == 0 {
		return nil, fmt.Errorf("regions.yaml: no regions defined")
	}

	resRaw, err := os.ReadFile(filepath.Join(dir, "resources.yaml"))
	if err != nil {
		return nil, fmt.Errorf("resources.yaml: %w", err)
	}
	var sf resourcesFile
	if err := yaml.Unmarshal(resRaw, &sf); err != nil {
		return nil, fmt.Errorf("resources.yaml: %w", err)
	}
	if len(sf.Resources) == 0 {
		return nil, fmt.Errorf("resources.yaml: no resources defined")
	}

	cats := &Catalogs{
		Regions: RegionCatalog{
			Defs:        rf.Regions,
			ByID:        make(map[string]RegionDef, len(rf.Regions)),
			SpawnRegion: rf.SpawnRegion,
			Digest:      digest(regRaw),
		},
		Resources: ResourceCatalog{
			Defs:   sf.Resources,
			Costs:  sf.Costs,
			Rules:  sf.Rules,
			Digest: digest(resRaw),
		},
	}
	for _, def := range rf.Regions {
		if def.Capacity <= 0 {
			return nil, fmt.Errorf("region %q: capacity must be positive", def.ID)
		}
		if def.DangerLevel < 0 || def.DangerLevel > 1 {
			return nil, fmt.Errorf("region %q: danger_level out of [0,1]", def.ID)
		}
		if _, dup := cats.Regions.ByID[def.ID]; dup {
			return nil, fmt.Errorf("region %q: duplicate id", def.ID)
		}
		cats.Regions.ByID[def.ID] = def
	}
	if cats.Regions.SpawnRegion == "" {
		cats.Regions.SpawnRegion = rf.Regions[0].ID
	}
	if _, ok := cats.Regions.ByID[cats.Regions.SpawnRegion]; !ok {
		return nil, fmt.Errorf("spawn_region %q not defined", cats.Regions.SpawnRegion)
	}

	for id := range sf.Resources {
		cats.Resources.Order = append(cats.Resources.Order, id)
	}
	sort.Strings(cats.Resources.Order)

	for action, cost := range sf.Costs {
		for res := range cost {
			if _, ok := sf.Resources[res]; !ok {
				return nil, fmt.Errorf("action_costs.%s: unknown resource %q", action, res)
			}
		}
	}

	// Two children each receiving more than half the parent's pool would
	// create resources out of nothing.
	if cats.Resources.Rules.ForkSplitFraction == 0 {
		cats.Resources.Rules.ForkSplitFraction = 0.5
	}
	if f := cats.Resources.Rules.ForkSplitFraction; f < 0 || f > 0.5 {
		return nil, fmt.Errorf("rules.fork_split_fraction %v out of (0,0.5]", f)
	}
	return cats, nil
}

// Cost returns the base cost table for an action (nil when the action has
// no cost entry, which validation treats as free).
func (c *Catalogs) Cost(action string) map[string]float64 {
	return c.Resources.Costs[action]
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
