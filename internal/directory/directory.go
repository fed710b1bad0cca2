// Package directory resolves technician contact records.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"
)

const cacheKey = "directory:technicians"

// HTTPDirectory fetches the eligible technicians list from the directory service.
type HTTPDirectory struct {
	url        string
	token      string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func NewHTTPDirectory(cfg config.DirectoryConfig) *HTTPDirectory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultHTTPTimeout
	}
	return &HTTPDirectory{
		url:        cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache configures optional Redis caching of the roster.
func (d *HTTPDirectory) UseRedisCache(client *redis.Client, ttl time.Duration) {
	d.redis = client
	d.cacheTTL = ttl
}

func (d *HTTPDirectory) EligibleTechnicians(ctx context.Context) ([]models.Technician, error) {
	var techs []models.Technician
	if d.readCache(ctx, &techs) {
		return techs, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("directory: http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&techs); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	d.writeCache(ctx, techs)
	return techs, nil
}

func (d *HTTPDirectory) readCache(ctx context.Context, out any) bool {
	if d.redis == nil || d.cacheTTL <= 0 {
		return false
	}
	val, err := d.redis.Get(ctx, cacheKey).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (d *HTTPDirectory) writeCache(ctx context.Context, val any) {
	if d.redis == nil || d.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = d.redis.Set(ctx, cacheKey, data, d.cacheTTL).Err()
}

// FileDirectory reads a YAML roster on every call so edits apply without a restart.
type FileDirectory struct {
	path string
}

func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

type roster struct {
	Technicians []models.Technician `yaml:"technicians"`
}

func (d *FileDirectory) EligibleTechnicians(_ context.Context) ([]models.Technician, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return r.Technicians, nil
}

// Index maps normalized full names and usernames to technicians.
type Index map[string]models.Technician

// NewIndex builds a lookup over techs. The first record wins a key collision.
func NewIndex(techs []models.Technician) Index {
	idx := make(Index, len(techs)*2)
	for _, t := range techs {
		for _, key := range []string{models.NormalizeName(t.FullName), models.NormalizeName(t.Username)} {
			if key == "" {
				continue
			}
			if _, exists := idx[key]; !exists {
				idx[key] = t
			}
		}
	}
	return idx
}

// ResolveContact returns the mobile number for an assignee name, if any.
func (idx Index) ResolveContact(assignee string) (string, bool) {
	t, ok := idx[models.NormalizeName(assignee)]
	if !ok {
		return "", false
	}
	mobile := strings.TrimSpace(t.Mobile)
	return mobile, mobile != ""
}
