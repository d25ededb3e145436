// Package alert reports generating units that appear in dispatch data but are
// missing from the reference catalog.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/jsonfile"
	"nem_dashboard/internal/logging"
)

const exceptionNote = "DUIDs in this list will not trigger alerts"

// ExceptionList is the persisted set of units that never alert.
type ExceptionList struct {
	DUIDs       []string  `json:"exception_duids"`
	LastUpdated time.Time `json:"last_updated"`
	Note        string    `json:"note"`
}

type ExceptionStore interface {
	Load(ctx context.Context) (ExceptionList, error)
	Save(ctx context.Context, list ExceptionList) error
}

// FileExceptions keeps the exception list in a JSON document.
type FileExceptions struct {
	path string
}

func NewFileExceptions(path string) *FileExceptions {
	return &FileExceptions{path: path}
}

// Load returns an empty list when the file does not exist.
func (f *FileExceptions) Load(ctx context.Context) (ExceptionList, error) {
	if err := ctx.Err(); err != nil {
		return ExceptionList{}, err
	}
	var list ExceptionList
	if _, err := jsonfile.Read(f.path, &list); err != nil {
		return ExceptionList{}, fmt.Errorf("loading exceptions: %w", err)
	}
	return list, nil
}

func (f *FileExceptions) Save(ctx context.Context, list ExceptionList) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return jsonfile.Write(f.path, list)
}

// Notifier delivers an unknown-unit alert.
type Notifier interface {
	NotifyUnknownUnits(ctx context.Context, duids []string) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger).Named("alert")}
}

func (n *LogNotifier) NotifyUnknownUnits(ctx context.Context, duids []string) error {
	n.logger.Warn("new units missing from the catalog",
		zap.Int("count", len(duids)),
		zap.String("duids", strings.Join(duids, ", ")),
	)
	return nil
}

type Options struct {
	Enabled bool
	// AutoAdd appends alerted units to the exception list.
	AutoAdd  bool
	Cooldown time.Duration
	Now      func() time.Time
}

// Result splits the unknown units of one check.
type Result struct {
	Exceptions []string `json:"exceptions"`
	New        []string `json:"new"`
	Alerted    []string `json:"alerted"`
}

// Monitor decides which unknown units to alert on. A unit alerts at most once
// per cooldown.
type Monitor struct {
	mu         sync.Mutex
	exceptions ExceptionStore
	notifier   Notifier
	opts       Options
	logger     *zap.Logger
	lastAlert  map[string]time.Time
}

func NewMonitor(exceptions ExceptionStore, notifier Notifier, opts Options, logger *zap.Logger) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		exceptions: exceptions,
		notifier:   notifier,
		opts:       opts,
		logger:     logging.OrNop(logger).Named("alert"),
		lastAlert:  make(map[string]time.Time),
	}
}

// Check classifies unknown units against the exception list and notifies
// about new ones when alerting is enabled.
func (m *Monitor) Check(ctx context.Context, unknown []string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	if len(unknown) == 0 {
		return res, nil
	}

	list, err := m.exceptions.Load(ctx)
	if err != nil {
		return res, err
	}
	excepted := make(map[string]bool, len(list.DUIDs))
	for _, d := range list.DUIDs {
		excepted[d] = true
	}

	for _, d := range dedupe(unknown) {
		if excepted[d] {
			res.Exceptions = append(res.Exceptions, d)
		} else {
			res.New = append(res.New, d)
		}
	}
	m.logger.Warn("units missing from the catalog",
		zap.Int("unknown", len(res.Exceptions)+len(res.New)),
		zap.Int("new", len(res.New)),
		zap.Int("excepted", len(res.Exceptions)),
	)

	if len(res.New) == 0 {
		return res, nil
	}
	if !m.opts.Enabled {
		m.logger.Info("alerts disabled", zap.Strings("would_alert", res.New))
		return res, nil
	}

	now := m.opts.Now()
	var due []string
	for _, d := range res.New {
		if last, ok := m.lastAlert[d]; !ok || now.Sub(last) > m.opts.Cooldown {
			due = append(due, d)
		}
	}
	if len(due) == 0 {
		return res, nil
	}

	if err := m.notifier.NotifyUnknownUnits(ctx, due); err != nil {
		return res, fmt.Errorf("notifying unknown units: %w", err)
	}
	for _, d := range due {
		m.lastAlert[d] = now
	}
	res.Alerted = due

	if m.opts.AutoAdd {
		list.DUIDs = dedupe(append(list.DUIDs, due...))
		list.LastUpdated = now
		list.Note = exceptionNote
		if err := m.exceptions.Save(ctx, list); err != nil {
			return res, fmt.Errorf("adding alerted units to exceptions: %w", err)
		}
		m.logger.Info("alerted units added to exceptions", zap.Int("count", len(due)))
	}
	return res, nil
}

// dedupe returns the distinct values sorted.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
