// Package recipe loads and serves the menu definitions that the planner
// turns into task DAGs. Backed by a JSON file on disk, reloaded wholesale
// on Save, matching the single-file persistence shape spec §6 asks for:
// "Updates must be atomic at file granularity."
package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/barbrew/control-plane/pkg/models"
)

// Store serves models.Recipe by menu code, loaded from a JSON file that may
// be either a {"menu_code": {...}} object or a bare array of recipes.
type Store struct {
	mu       sync.RWMutex
	path     string
	recipes  map[int]models.Recipe
	simulate bool
	simSecs  float64
	// cache holds the simulation-scaled copy of each recipe keyed by menu
	// code, so repeated Get calls during a busy service period don't re-walk
	// every duration field. Invalidated wholesale on reload.
	cache *cache.Cache
}

// New builds a Store over path. If simulate is true, every positive
// duration field in every loaded recipe is replaced by simSecs, a boot-time
// override for running the whole menu at demo speed (spec §4.2).
func New(path string, simulate bool, simSecs float64) *Store {
	return &Store{
		path:     path,
		recipes:  make(map[int]models.Recipe),
		simulate: simulate,
		simSecs:  simSecs,
		cache:    cache.New(cache.NoExpiration, 0),
	}
}

// Load reads the recipe file, whose on-disk shape is either a map keyed by
// menu code as a string, or a bare list; both are accepted.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read recipe file: %w", err)
	}

	var list []models.Recipe
	if err := json.Unmarshal(raw, &list); err != nil {
		var byCode map[string]models.Recipe
		if err2 := json.Unmarshal(raw, &byCode); err2 != nil {
			return fmt.Errorf("decode recipe file (tried list and map forms): %w", err)
		}
		for _, r := range byCode {
			list = append(list, r)
		}
	}

	next := make(map[int]models.Recipe, len(list))
	for _, r := range list {
		if err := r.Validate(); err != nil {
			log.Warn().Int("menu_code", r.MenuCode).Err(err).Msg("skipping invalid recipe on load")
			continue
		}
		next[r.MenuCode] = r
	}

	s.mu.Lock()
	s.recipes = next
	s.cache.Flush()
	s.mu.Unlock()

	log.Info().Int("count", len(next)).Str("path", s.path).Msg("recipes loaded")
	return nil
}

// Get returns the (possibly simulation-scaled) recipe for menuCode.
func (s *Store) Get(menuCode int) (models.Recipe, bool) {
	if v, found := s.cache.Get(cacheKey(menuCode)); found {
		return v.(models.Recipe), true
	}

	s.mu.RLock()
	r, ok := s.recipes[menuCode]
	s.mu.RUnlock()
	if !ok {
		return models.Recipe{}, false
	}

	if s.simulate {
		r = scaleRecipe(r, s.simSecs)
	}
	s.cache.Set(cacheKey(menuCode), r, cache.NoExpiration)
	return r, true
}

// All returns every known recipe, simulation-scaled if applicable.
func (s *Store) All() []models.Recipe {
	s.mu.RLock()
	codes := make([]int, 0, len(s.recipes))
	for code := range s.recipes {
		codes = append(codes, code)
	}
	s.mu.RUnlock()

	out := make([]models.Recipe, 0, len(codes))
	for _, code := range codes {
		if r, ok := s.Get(code); ok {
			out = append(out, r)
		}
	}
	return out
}

// Save persists recipes to disk atomically: write to a temp file in the
// same directory, then rename over the target, so a crash mid-write never
// leaves a truncated menu file behind.
func (s *Store) Save(recipes []models.Recipe) error {
	for _, r := range recipes {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(recipes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal recipes: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".recipes-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp recipe file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp recipe file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp recipe file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp recipe file: %w", err)
	}

	next := make(map[int]models.Recipe, len(recipes))
	for _, r := range recipes {
		next[r.MenuCode] = r
	}
	s.mu.Lock()
	s.recipes = next
	s.cache.Flush()
	s.mu.Unlock()

	return nil
}

func cacheKey(menuCode int) string {
	return fmt.Sprintf("recipe:%d", menuCode)
}

// scaleRecipe replaces every positive duration in r with secs, leaving
// zero-valued (not-used-by-this-menu) fields untouched so the planner's
// "skip stages whose duration is zero" logic still holds under simulation.
func scaleRecipe(r models.Recipe, secs float64) models.Recipe {
	scale := func(v float64) float64 {
		if v > 0 {
			return secs
		}
		return v
	}
	r.IceExtTime = scale(r.IceExtTime)
	r.WaterExtTime = scale(r.WaterExtTime)
	r.SparklingExtTime = scale(r.SparklingExtTime)
	r.HotwaterExtTime = scale(r.HotwaterExtTime)
	r.CoffeeExtTime = scale(r.CoffeeExtTime)

	scaled := make([]models.Syrup, len(r.Syrups))
	for i, syr := range r.Syrups {
		syr.Seconds = scale(syr.Seconds)
		scaled[i] = syr
	}
	r.Syrups = scaled
	return r
}
