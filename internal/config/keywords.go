package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"gopkg.in/yaml.v3"
)

var ErrNoKeywords = errors.New("keyword file lists no keywords")

// KeywordFile is the YAML document describing one batch of keywords.
//
//	countries: [uk, de]
//	keywords:
//	  - yoga mat
//	settings:
//	  max_products: 10
//	  concurrency: 2
type KeywordFile struct {
	Country   string          `yaml:"country"`
	Countries []string        `yaml:"countries"`
	Keywords  []string        `yaml:"keywords"`
	Settings  KeywordSettings `yaml:"settings"`
}

type KeywordSettings struct {
	MaxProducts int    `yaml:"max_products"`
	Concurrency int    `yaml:"concurrency"`
	OutputDir   string `yaml:"output_dir"`
}

func LoadKeywordFile(path string) (*KeywordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword file: %w", err)
	}
	return ParseKeywordFile(data)
}

func ParseKeywordFile(data []byte) (*KeywordFile, error) {
	var kf KeywordFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse keyword file: %w", err)
	}

	keywords := make([]string, 0, len(kf.Keywords))
	seen := make(map[string]bool)
	for _, kw := range kf.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	kf.Keywords = keywords

	for _, code := range kf.CountryCodes() {
		if _, err := locale.Lookup(code); err != nil {
			return nil, err
		}
	}

	return &kf, nil
}

// CountryCodes merges country and countries, keeping file order.
func (kf *KeywordFile) CountryCodes() []string {
	var codes []string
	seen := make(map[string]bool)
	for _, c := range append([]string{kf.Country}, kf.Countries...) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		codes = append(codes, c)
	}
	return codes
}

// Apply overlays the file settings onto the enrichment and output config.
func (kf *KeywordFile) Apply(cfg *Config) {
	if kf.Settings.MaxProducts > 0 {
		cfg.Enrichment.MaxProducts = kf.Settings.MaxProducts
	}
	if kf.Settings.Concurrency > 0 {
		cfg.Enrichment.Concurrency = kf.Settings.Concurrency
	}
	if kf.Settings.OutputDir != "" {
		cfg.Output.Dir = kf.Settings.OutputDir
	}
	if codes := kf.CountryCodes(); len(codes) > 0 {
		cfg.Enrichment.Country = codes[0]
	}
}
