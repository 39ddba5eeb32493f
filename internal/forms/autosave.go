package forms

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/schedule"
	"github.com/multicloud-portal/portal/internal/store"
)

// DefaultAutosaveDelay is the quiet period after the last edit before a draft is saved.
const DefaultAutosaveDelay = 30 * time.Second

// Autosaver saves one user's form values for one template after edits stop.
type Autosaver struct {
	drafts   store.DraftStore
	email    string
	template string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	latest   map[string]string
	debounce *schedule.Debouncer

	// saved runs after every save attempt.
	saved func()
}

// NewAutosaver creates an autosaver. Nothing is written until Update is called.
func NewAutosaver(drafts store.DraftStore, email, templateName string, delay time.Duration, logger *slog.Logger) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Autosaver{
		drafts:   drafts,
		email:    email,
		template: templateName,
		logger:   logger,
		now:      time.Now,
	}
	a.debounce = schedule.NewDebouncer(delay, a.save)
	return a
}

// Attach saves the form's values whenever it changes.
func (a *Autosaver) Attach(f *Form) {
	f.OnChange(a.Update)
}

// Update records the latest values and restarts the save timer.
func (a *Autosaver) Update(values map[string]string) {
	a.mu.Lock()
	a.latest = maps.Clone(values)
	a.mu.Unlock()
	a.debounce.Trigger()
}

// Flush saves pending values now. It reports whether anything was saved.
func (a *Autosaver) Flush() bool {
	return a.debounce.Flush()
}

// Pending reports whether a save is waiting on the timer.
func (a *Autosaver) Pending() bool {
	return a.debounce.Pending()
}

// Stop cancels any pending save.
func (a *Autosaver) Stop() {
	a.debounce.Stop()
}

func (a *Autosaver) save() {
	if a.saved != nil {
		defer a.saved()
	}
	a.mu.Lock()
	values := a.latest
	a.mu.Unlock()
	if values == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := &models.Draft{
		UserEmail:    a.email,
		TemplateName: a.template,
		Values:       values,
		SavedAt:      a.now().UTC(),
	}
	if err := a.drafts.Save(ctx, d); err != nil {
		a.logger.Warn("failed to save draft",
			"template", a.template,
			"error", err,
		)
		return
	}
	a.logger.Debug("draft saved", "template", a.template, "fields", len(values))
}

// Autosavers keeps one autosaver per user and template.
type Autosavers struct {
	drafts store.DraftStore
	delay  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	byKey map[string]*Autosaver
}

// NewAutosavers creates an empty registry.
func NewAutosavers(drafts store.DraftStore, delay time.Duration, logger *slog.Logger) *Autosavers {
	return &Autosavers{
		drafts: drafts,
		delay:  delay,
		logger: logger,
		byKey:  make(map[string]*Autosaver),
	}
}

// Touch records new values for a user's template form.
func (r *Autosavers) Touch(email, templateName string, values map[string]string) {
	key := email + "\x00" + templateName

	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byKey[key]
	if !ok {
		a = NewAutosaver(r.drafts, email, templateName, r.delay, r.logger)
		a.saved = func() { r.release(key, a) }
		r.byKey[key] = a
	}
	a.Update(values)
}

// release forgets a once it has saved and no newer edit is waiting.
func (r *Autosavers) release(key string, a *Autosaver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey[key] == a && !a.Pending() {
		delete(r.byKey, key)
		a.Stop()
	}
}

// Len returns the number of forms with an active autosaver.
func (r *Autosavers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// Discard drops a pending save, for example after the form was submitted.
func (r *Autosavers) Discard(email, templateName string) {
	key := email + "\x00" + templateName

	r.mu.Lock()
	a, ok := r.byKey[key]
	delete(r.byKey, key)
	r.mu.Unlock()

	if ok {
		a.Stop()
	}
}

// FlushAll saves every pending draft and stops all timers.
func (r *Autosavers) FlushAll() {
	r.mu.Lock()
	all := make([]*Autosaver, 0, len(r.byKey))
	for _, a := range r.byKey {
		all = append(all, a)
	}
	r.byKey = make(map[string]*Autosaver)
	r.mu.Unlock()

	for _, a := range all {
		a.Flush()
		a.Stop()
	}
}
