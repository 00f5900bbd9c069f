package uow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/canteen-backend/pkg/db"
	"github.com/angelmondragon/canteen-backend/pkg/logger"
)

// Mode selects how a unit of work groups its mutations.
type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeTransactional Mode = "transactional"
	ModeBestEffort    Mode = "best_effort"
)

// ParseMode converts a configured value into a Mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeTransactional:
		return ModeTransactional, nil
	case ModeBestEffort:
		return ModeBestEffort, nil
	}
	return "", fmt.Errorf("invalid unit-of-work mode %q", value)
}

// Warning is a tolerated partial failure. The economically significant
// effects of the unit already committed when one is recorded.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %s", w.Step, w.Message)
}

// Report describes how a unit of work ran.
type Report struct {
	Mode     Mode
	Warnings []Warning
}

// Work is the handle a unit-of-work body mutates storage through.
type Work interface {
	// DB returns the handle every statement of the unit must use.
	DB() *gorm.DB
	// Transactional reports whether all statements share one transaction.
	Transactional() bool
	// Lock returns DB() with a row-lock clause when the backend honours one.
	Lock() *gorm.DB
	// Compensate registers an undo action, run LIFO if a best-effort unit aborts.
	Compensate(step string, fn func(ctx context.Context) error)
	// Settle runs a write that is fatal inside a transaction and a warning
	// outside one.
	Settle(ctx context.Context, step string, fn func(db *gorm.DB) error) error
	// Annotate runs a write whose failure never fails the unit.
	Annotate(ctx context.Context, step string, fn func(db *gorm.DB) error)
	// Attempt runs fn and returns its error while leaving the unit usable,
	// so the caller may retry the step.
	Attempt(ctx context.Context, step string, fn func(db *gorm.DB) error) error
	// Warn records a partial failure directly.
	Warn(ctx context.Context, step, message string)
	Warnings() []Warning
}

// TxRunner is the storage surface the manager needs; *db.Client satisfies it.
type TxRunner interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recorder receives fallback and warning counts.
type Recorder interface {
	IncFallback()
	IncWarning(step string)
}

type ManagerParams struct {
	Runner  TxRunner
	Mode    Mode
	Logger  *logger.Logger
	Metrics Recorder
}

// Manager runs units of work in the configured mode. In auto mode the first
// transaction rejected by the backend flips the manager to best-effort for
// the rest of the process lifetime.
type Manager struct {
	runner   TxRunner
	mode     Mode
	fallback atomic.Bool
	logg     *logger.Logger
	metrics  Recorder
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Runner == nil {
		return nil, errors.New("tx runner required")
	}
	mode := params.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return &Manager{
		runner:  params.Runner,
		mode:    mode,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// EffectiveMode reports the mode the next unit will start in.
func (m *Manager) EffectiveMode() Mode {
	switch {
	case m.mode == ModeBestEffort, m.mode == ModeAuto && m.fallback.Load():
		return ModeBestEffort
	case m.mode == ModeAuto:
		return ModeAuto
	}
	return ModeTransactional
}

// Do runs fn as one logical unit named name.
func (m *Manager) Do(ctx context.Context, name string, fn func(ctx context.Context, w Work) error) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.EffectiveMode() == ModeBestEffort {
		return m.runBestEffort(ctx, name, fn)
	}

	report, err := m.runTransactional(ctx, name, fn)
	if err == nil || m.mode != ModeAuto || !errors.Is(err, dbpkg.ErrTransactionsUnsupported) {
		return report, err
	}

	if m.fallback.CompareAndSwap(false, true) {
		if m.metrics != nil {
			m.metrics.IncFallback()
		}
		if m.logg != nil {
			logCtx := m.logg.WithField(ctx, "unit", name)
			m.logg.WarnErr(logCtx, "storage rejected transactions; switching to best-effort units", err)
		}
	}
	return m.runBestEffort(ctx, name, fn)
}

func (m *Manager) runTransactional(ctx context.Context, name string, fn func(ctx context.Context, w Work) error) (Report, error) {
	var work *txWork
	err := m.runner.WithTx(ctx, func(tx *gorm.DB) error {
		work = &txWork{baseWork: baseWork{manager: m, unit: name, db: tx.WithContext(ctx)}}
		return fn(ctx, work)
	})
	report := Report{Mode: ModeTransactional}
	if work != nil {
		report.Warnings = work.Warnings()
	}
	return report, err
}

func (m *Manager) runBestEffort(ctx context.Context, name string, fn func(ctx context.Context, w Work) error) (Report, error) {
	work := &bestEffortWork{baseWork: baseWork{manager: m, unit: name, db: m.runner.DB().WithContext(ctx)}}
	err := fn(ctx, work)
	if err != nil {
		work.compensate(ctx)
	}
	return Report{Mode: ModeBestEffort, Warnings: work.Warnings()}, err
}

func (m *Manager) recordWarning(ctx context.Context, unit string, warning Warning, level string) {
	if m.metrics != nil {
		m.metrics.IncWarning(warning.Step)
	}
	if m.logg == nil {
		return
	}
	logCtx := m.logg.WithFields(ctx, map[string]any{
		"unit": unit,
		"step": warning.Step,
	})
	if level == "error" {
		m.logg.Error(logCtx, "unit of work step failed", warning)
		return
	}
	m.logg.WarnErr(logCtx, "unit of work step degraded", warning)
}

type baseWork struct {
	manager  *Manager
	unit     string
	db       *gorm.DB
	mu       sync.Mutex
	warnings []Warning
}

func (b *baseWork) DB() *gorm.DB {
	return b.db
}

func (b *baseWork) Warn(ctx context.Context, step, message string) {
	b.addWarning(ctx, Warning{Step: step, Message: message}, "warn")
}

func (b *baseWork) Warnings() []Warning {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Warning, len(b.warnings))
	copy(out, b.warnings)
	return out
}

func (b *baseWork) addWarning(ctx context.Context, warning Warning, level string) {
	b.mu.Lock()
	b.warnings = append(b.warnings, warning)
	b.mu.Unlock()
	b.manager.recordWarning(ctx, b.unit, warning, level)
}

type txWork struct {
	baseWork
	savepoints int
}

func (w *txWork) Transactional() bool {
	return true
}

func (w *txWork) Lock() *gorm.DB {
	if w.db.Dialector != nil && w.db.Dialector.Name() == "postgres" {
		return w.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return w.db
}

// Compensate is a no-op: rollback undoes everything.
func (w *txWork) Compensate(string, func(context.Context) error) {}

func (w *txWork) Settle(_ context.Context, step string, fn func(db *gorm.DB) error) error {
	if err := fn(w.db); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

func (w *txWork) Annotate(ctx context.Context, step string, fn func(db *gorm.DB) error) {
	w.savepoints++
	name := savepointName(step, w.savepoints)
	if err := w.db.SavePoint(name).Error; err != nil {
		w.addWarning(ctx, Warning{Step: step, Message: err.Error()}, "warn")
		return
	}
	if err := fn(w.db); err != nil {
		if rbErr := w.db.RollbackTo(name).Error; rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
		w.addWarning(ctx, Warning{Step: step, Message: err.Error()}, "warn")
	}
}

func (w *txWork) Attempt(_ context.Context, step string, fn func(db *gorm.DB) error) error {
	w.savepoints++
	name := savepointName(step, w.savepoints)
	if err := w.db.SavePoint(name).Error; err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := fn(w.db); err != nil {
		if rbErr := w.db.RollbackTo(name).Error; rbErr != nil {
			return multierr.Append(err, rbErr)
		}
		return err
	}
	return nil
}

type compensation struct {
	step string
	fn   func(ctx context.Context) error
}

type bestEffortWork struct {
	baseWork
	compensations []compensation
}

func (w *bestEffortWork) Transactional() bool {
	return false
}

func (w *bestEffortWork) Lock() *gorm.DB {
	return w.db
}

func (w *bestEffortWork) Compensate(step string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.compensations = append(w.compensations, compensation{step: step, fn: fn})
	w.mu.Unlock()
}

func (w *bestEffortWork) Settle(ctx context.Context, step string, fn func(db *gorm.DB) error) error {
	w.Annotate(ctx, step, fn)
	return nil
}

func (w *bestEffortWork) Annotate(ctx context.Context, step string, fn func(db *gorm.DB) error) {
	if err := fn(w.db); err != nil {
		w.addWarning(ctx, Warning{Step: step, Message: err.Error()}, "warn")
	}
}

func (w *bestEffortWork) Attempt(_ context.Context, _ string, fn func(db *gorm.DB) error) error {
	return fn(w.db)
}

func (w *bestEffortWork) compensate(ctx context.Context) {
	w.mu.Lock()
	pending := w.compensations
	w.compensations = nil
	w.mu.Unlock()

	var combined error
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		if err := c.fn(ctx); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", c.step, err))
			w.addWarning(ctx, Warning{Step: "compensate:" + c.step, Message: err.Error()}, "error")
		}
	}
	if combined != nil && w.manager.logg != nil {
		logCtx := w.manager.logg.WithField(ctx, "unit", w.unit)
		w.manager.logg.Error(logCtx, "compensation incomplete", combined)
	}
}

var savepointUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func savepointName(step string, seq int) string {
	return fmt.Sprintf("sp_%s_%d", savepointUnsafe.ReplaceAllString(step, "_"), seq)
}
