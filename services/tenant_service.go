package services

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"bingohall/models"

	"gorm.io/gorm"
)

// TenantService maps request hosts to tenants. <subdomain>.<base domain>
// names a tenant; lookups are memoised since tenants are rarely renamed.
type TenantService struct {
	db         *gorm.DB
	baseDomain string

	mu    sync.RWMutex
	cache map[string]uint
}

func NewTenantService(db *gorm.DB, baseDomain string) *TenantService {
	return &TenantService{
		db:         db,
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, ".")),
		cache:      make(map[string]uint),
	}
}

// Subdomain extracts the tenant label from a Host header value.
func (s *TenantService) Subdomain(host string) (string, error) {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	suffix := "." + s.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", fmt.Errorf("host %q is not under %s: %w", host, s.baseDomain, ErrNotFound)
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return "", fmt.Errorf("host %q has no tenant label: %w", host, ErrNotFound)
	}
	return sub, nil
}

// Resolve returns the tenant id for a Host header value.
func (s *TenantService) Resolve(ctx context.Context, host string) (uint, error) {
	sub, err := s.Subdomain(host)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	id, ok := s.cache[sub]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("subdomain = ?", sub).First(&tenant).Error; err != nil {
		return 0, notFound(err, "tenant %q", sub)
	}

	s.mu.Lock()
	s.cache[sub] = tenant.ID
	s.mu.Unlock()
	return tenant.ID, nil
}

func (s *TenantService) CreateTenant(ctx context.Context, subdomain, name string) (*models.Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" || strings.Contains(subdomain, ".") {
		return nil, fmt.Errorf("invalid subdomain %q: %w", subdomain, ErrInvalidRequest)
	}
	tenant := models.Tenant{Subdomain: subdomain, Name: name}
	if err := s.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}
