// Package catalogfile reads campaign definitions from YAML seed files.
package catalogfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lootfan/internal/models"
	"lootfan/internal/services"
)

// File is one campaign as written by a creator.
type File struct {
	ID              string   `yaml:"id"`
	CreatorID       string   `yaml:"creator_id"`
	Title           string   `yaml:"title"`
	Slug            string   `yaml:"slug"`
	PricePerSpin    float64  `yaml:"price_per_spin"`
	PlatformFeeRate *float64 `yaml:"platform_fee_rate"` // optional; service default when absent
	Active          bool     `yaml:"active"`
	Animation       string   `yaml:"animation"`
	Prizes          []Prize  `yaml:"prizes"`
}

// Prize is one catalog entry of a File.
type Prize struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Variant        string  `yaml:"variant"`
	Description    string  `yaml:"description"`
	Stock          int     `yaml:"stock"`
	Probability    float64 `yaml:"probability"`
	PerceivedValue float64 `yaml:"perceived_value"`
	CostPrice      float64 `yaml:"cost_price"`
	ImageURL       string  `yaml:"image_url"`
}

// Load reads and validates a single file.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// LoadDir reads every *.yaml and *.yml file of dir, sorted by name.
func LoadDir(dir string) ([]*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]*File, 0, len(names))
	for _, name := range names {
		f, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Validate checks the semantic constraints of a campaign file.
func (f *File) Validate() error {
	var errs []string

	if f.ID == "" {
		errs = append(errs, "id is required")
	}
	if f.Slug == "" {
		errs = append(errs, "slug is required")
	}
	if f.PricePerSpin <= 0 {
		errs = append(errs, "price_per_spin must be > 0")
	}
	if f.PlatformFeeRate != nil && (*f.PlatformFeeRate < 0 || *f.PlatformFeeRate >= 1) {
		errs = append(errs, "platform_fee_rate must be in [0,1)")
	}
	if !models.AnimationMode(f.Animation).Valid() {
		errs = append(errs, "animation must be one of: WHEEL, BOX, LOOT, MACHINE")
	}
	if len(f.Prizes) == 0 {
		errs = append(errs, "at least one prize is required")
	}

	seen := make(map[string]bool, len(f.Prizes))
	for i, p := range f.Prizes {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("prizes[%d].id is required", i))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("prizes[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true
		if !models.PrizeVariant(p.Variant).Valid() {
			errs = append(errs, fmt.Sprintf("prizes[%d].variant must be one of: DIGITAL, PHYSICAL, SINGLE_VIEW", i))
		}
		if p.Stock < models.UnlimitedStock {
			errs = append(errs, fmt.Sprintf("prizes[%d].stock must be >= -1", i))
		}
		if p.Probability < 0 || p.Probability > 100 || math.IsNaN(p.Probability) {
			errs = append(errs, fmt.Sprintf("prizes[%d].probability must be in [0,100]", i))
		}
		if p.Variant == string(models.VariantPhysical) && p.CostPrice < 0 {
			errs = append(errs, fmt.Sprintf("prizes[%d].cost_price must be >= 0", i))
		}
	}

	if len(errs) == 0 {
		if d := services.CheckDistribution(f.prizes()); d.Status != services.DistributionValid {
			errs = append(errs, fmt.Sprintf("probabilities add up to %.2f, expected 100", d.Total))
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid campaign: " + strings.Join(errs, "; "))
	}
	return nil
}

// Campaign converts the file into models. defaultFeeRate applies when the
// file does not set its own rate.
func (f *File) Campaign(defaultFeeRate decimal.Decimal) (*models.Campaign, []models.Prize) {
	feeRate := defaultFeeRate
	if f.PlatformFeeRate != nil {
		feeRate = decimal.NewFromFloat(*f.PlatformFeeRate)
	}
	creator := f.CreatorID
	if creator == "" {
		creator = "seed"
	}
	title := f.Title
	if title == "" {
		title = f.Slug
	}
	campaign := &models.Campaign{
		ID:              f.ID,
		CreatorID:       creator,
		Title:           title,
		Slug:            f.Slug,
		PricePerSpin:    money(f.PricePerSpin),
		PlatformFeeRate: feeRate,
		IsActive:        f.Active,
		Animation:       models.AnimationMode(f.Animation),
		TotalRevenue:    decimal.Zero,
	}
	return campaign, f.prizes()
}

func (f *File) prizes() []models.Prize {
	out := make([]models.Prize, 0, len(f.Prizes))
	for i, p := range f.Prizes {
		out = append(out, models.Prize{
			ID:             p.ID,
			CampaignID:     f.ID,
			Position:       i,
			Name:           p.Name,
			Variant:        models.PrizeVariant(p.Variant),
			Description:    p.Description,
			Stock:          p.Stock,
			Probability:    p.Probability,
			PerceivedValue: money(p.PerceivedValue),
			CostPrice:      money(p.CostPrice),
			ImageURL:       p.ImageURL,
		})
	}
	return out
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
