package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"passe/internal/domain"
	"passe/internal/storage"
)

// DomainDB holds each user's canonical domain map and merges client changes
// into it. The merge is last-write-wins per domain: a Set replaces the stored
// entry, a Delete removes it. No version metadata is tracked.
type DomainDB struct {
	mu          sync.Mutex
	persistence storage.Persistence
	log         *logrus.Entry
}

func NewDomainDB(p storage.Persistence, logger *logrus.Logger) *DomainDB {
	if logger == nil {
		logger = logrus.New()
	}
	return &DomainDB{
		persistence: p,
		log:         logger.WithField("component", "domaindb"),
	}
}

// Get returns the user's domain map, empty if nothing was stored yet.
func (d *DomainDB) Get(ctx context.Context, user string) (domain.Domains, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(ctx, user)
}

// Apply merges changes into the user's map, saves it if anything changed and
// returns the resulting canonical map.
func (d *DomainDB) Apply(ctx context.Context, user string, changes domain.Changes) (domain.Domains, error) {
	for name, c := range changes {
		if c.IsDelete() {
			continue
		}
		if err := c.Config.Validate(); err != nil {
			return nil, fmt.Errorf("domain %q: %w", name, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	domains, err := d.load(ctx, user)
	if err != nil {
		return nil, err
	}
	if !changes.Apply(domains) {
		return domains, nil
	}

	data, err := json.Marshal(domains)
	if err != nil {
		return nil, fmt.Errorf("encode domains: %w", err)
	}
	if err := d.persistence.Save(ctx, storage.DomainsDocument(user), data); err != nil {
		return nil, fmt.Errorf("save domains: %w", err)
	}
	d.log.WithFields(logrus.Fields{"user": user, "changes": len(changes), "domains": len(domains)}).Info("applied changes")
	return domains, nil
}

func (d *DomainDB) load(ctx context.Context, user string) (domain.Domains, error) {
	domains := make(domain.Domains)
	data, err := d.persistence.Load(ctx, storage.DomainsDocument(user))
	if errors.Is(err, storage.ErrNotFound) {
		return domains, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil, fmt.Errorf("decode domains: %w", err)
	}
	if domains == nil {
		domains = make(domain.Domains)
	}
	return domains, nil
}
