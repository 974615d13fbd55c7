package contextprofile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const (
	defaultCacheSize = 16
	defaultCacheTTL  = 10 * time.Minute
)

type profileFile struct {
	Companies []domain.CompanyContext `yaml:"companies"`
}

// FileProvider reads company profiles from a YAML file and caches them for a while,
// so an edited file is picked up without restarting serve.
type FileProvider struct {
	path  string
	cache *expirable.LRU[string, domain.CompanyContext]
}

var _ ports.ContextProvider = (*FileProvider)(nil)

// NewFileProvider wires the profile path. ttl <= 0 uses ten minutes.
func NewFileProvider(path string, ttl time.Duration) *FileProvider {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &FileProvider{
		path:  path,
		cache: expirable.NewLRU[string, domain.CompanyContext](defaultCacheSize, nil, ttl),
	}
}

// CompanyContext returns the profile with the given id.
func (p *FileProvider) CompanyContext(ctx context.Context, companyID string) (domain.CompanyContext, error) {
	if err := ctx.Err(); err != nil {
		return domain.CompanyContext{}, err
	}
	if cached, ok := p.cache.Get(companyID); ok {
		return cached, nil
	}

	profiles, err := p.load()
	if err != nil {
		return domain.CompanyContext{}, err
	}
	for _, profile := range profiles {
		p.cache.Add(profile.CompanyID, profile)
	}

	profile, ok := p.cache.Get(companyID)
	if !ok {
		return domain.CompanyContext{}, fmt.Errorf("company profile %q: %w", companyID, domain.ErrNotFound)
	}
	return profile, nil
}

func (p *FileProvider) load() ([]domain.CompanyContext, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read company profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse company profiles %s: %w", p.path, err)
	}

	out := make([]domain.CompanyContext, 0, len(file.Companies))
	for i, profile := range file.Companies {
		profile.CompanyID = strings.TrimSpace(profile.CompanyID)
		if profile.CompanyID == "" {
			return nil, fmt.Errorf("company profile #%d has no id", i+1)
		}
		out = append(out, profile)
	}
	return out, nil
}

// Static serves one in-memory profile; used when no profile file exists.
type Static domain.CompanyContext

// CompanyContext returns the profile regardless of id.
func (s Static) CompanyContext(context.Context, string) (domain.CompanyContext, error) {
	return domain.CompanyContext(s), nil
}
