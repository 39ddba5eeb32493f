// Package memory provides an in-process Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
// Transactions run directly against the shared state.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]models.Session
	drafts      map[[2]string]models.Draft
	credentials map[[2]string]models.Credential
	logs        map[string][]models.LogEntry
	deployments map[string]models.Deployment
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]models.Session),
		drafts:      make(map[[2]string]models.Draft),
		credentials: make(map[[2]string]models.Credential),
		logs:        make(map[string][]models.LogEntry),
		deployments: make(map[string]models.Deployment),
		now:         time.Now,
	}
}

func (s *Store) Sessions() store.SessionStore       { return &sessionStore{s} }
func (s *Store) Drafts() store.DraftStore           { return &draftStore{s} }
func (s *Store) Credentials() store.CredentialStore { return &credentialStore{s} }
func (s *Store) Logs() store.LogStore               { return &logStore{s} }
func (s *Store) Deployments() store.DeploymentStore { return &deploymentStore{s} }

// WithTx runs fn against the same store.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type sessionStore struct{ s *Store }

func (x *sessionStore) Create(ctx context.Context, sess *models.Session) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	x.s.sessions[sess.ID] = *sess
	return nil
}

func (x *sessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	sess, ok := x.s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

func (x *sessionStore) Delete(ctx context.Context, id string) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	delete(x.s.sessions, id)
	return nil
}

func (x *sessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	now := x.s.now()
	var n int64
	for id, sess := range x.s.sessions {
		if sess.Expired(now) {
			delete(x.s.sessions, id)
			n++
		}
	}
	return n, nil
}

type draftStore struct{ s *Store }

func (x *draftStore) Save(ctx context.Context, d *models.Draft) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	cp := *d
	cp.Values = copyStrings(d.Values)
	x.s.drafts[[2]string{d.UserEmail, d.TemplateName}] = cp
	return nil
}

func (x *draftStore) Get(ctx context.Context, userEmail, templateName string) (*models.Draft, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	d, ok := x.s.drafts[[2]string{userEmail, templateName}]
	if !ok {
		return nil, store.ErrNotFound
	}
	d.Values = copyStrings(d.Values)
	return &d, nil
}

func (x *draftStore) Delete(ctx context.Context, userEmail, templateName string) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	delete(x.s.drafts, [2]string{userEmail, templateName})
	return nil
}

type credentialStore struct{ s *Store }

func (x *credentialStore) Save(ctx context.Context, c *models.Credential) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	x.s.credentials[[2]string{c.UserEmail, string(c.Cloud)}] = *c
	return nil
}

func (x *credentialStore) Get(ctx context.Context, userEmail string, cloud models.Cloud) (*models.Credential, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	c, ok := x.s.credentials[[2]string{userEmail, string(cloud)}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (x *credentialStore) List(ctx context.Context, userEmail string) ([]*models.Credential, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	var out []*models.Credential
	for k, c := range x.s.credentials {
		if k[0] == userEmail {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cloud < out[j].Cloud })
	return out, nil
}

func (x *credentialStore) Delete(ctx context.Context, userEmail string, cloud models.Cloud) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	delete(x.s.credentials, [2]string{userEmail, string(cloud)})
	return nil
}

type logStore struct{ s *Store }

func (x *logStore) Append(ctx context.Context, entries []models.LogEntry) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	for _, e := range entries {
		existing := x.s.logs[e.DeploymentID]
		if n := len(existing); n > 0 && existing[n-1].Seq >= e.Seq {
			continue
		}
		x.s.logs[e.DeploymentID] = append(existing, e)
	}
	return nil
}

func (x *logStore) List(ctx context.Context, deploymentID string, limit int) ([]models.LogEntry, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	entries := x.s.logs[deploymentID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (x *logStore) DeleteForDeployment(ctx context.Context, deploymentID string) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	delete(x.s.logs, deploymentID)
	return nil
}

type deploymentStore struct{ s *Store }

func (x *deploymentStore) Upsert(ctx context.Context, d *models.Deployment) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if cur, ok := x.s.deployments[d.ID]; ok && cur.Status.IsTerminal() {
		return nil
	}
	x.s.deployments[d.ID] = *d
	return nil
}

func (x *deploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	d, ok := x.s.deployments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (x *deploymentStore) List(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	var out []*models.Deployment
	for _, d := range x.s.deployments {
		if filter.Status != "" && string(d.Status) != filter.Status {
			continue
		}
		if filter.ProviderType != "" && d.ProviderType != filter.ProviderType {
			continue
		}
		if filter.Tag != "" && !contains(d.Tags, filter.Tag) {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (x *deploymentStore) Delete(ctx context.Context, id string) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	delete(x.s.deployments, id)
	return nil
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func createdAt(d *models.Deployment) time.Time {
	if d.CreatedAt == nil {
		return time.Time{}
	}
	return *d.CreatedAt
}
