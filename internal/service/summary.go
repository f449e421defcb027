package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/edirooss/playout-server/internal/http/dto"
	"github.com/edirooss/playout-server/internal/playoutcfg"
	"go.uber.org/zap"
)

type SummaryOptions struct {
	// TTL controls how long the in-memory snapshot is served; default 1s.
	TTL time.Duration
	// Allow serving stale on refresh error.
	AllowStaleOnError bool
}

func (o *SummaryOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = time.Second
	}
}

// SummaryResult lets the handler set headers.
type SummaryResult struct {
	Data        []dto.SettingsSummary
	CacheHit    bool
	GeneratedAt time.Time
}

// SettingsLister is the read side SummaryService needs.
type SettingsLister interface {
	GetList() []channel.Settings
}

// UnitChecker reports whether a supervisor unit exists.
type UnitChecker interface {
	Exists(ref channel.ServiceRef) (bool, error)
}

// SummaryService reports, per stored channel, whether its unit and config are on disk.
type SummaryService struct {
	log   *zap.Logger
	store SettingsLister
	units UnitChecker

	mu      sync.RWMutex
	cache   []dto.SettingsSummary
	expires time.Time
	genAt   time.Time

	opts SummaryOptions
	now  func() time.Time

	sg singleflight.Group
}

// NewSummaryService wires dependencies and cache policy.
func NewSummaryService(log *zap.Logger, store SettingsLister, units UnitChecker, opts SummaryOptions) *SummaryService {
	opts.setDefaults()
	return &SummaryService{
		log:   log.Named("summary_service"),
		store: store,
		units: units,
		opts:  opts,
		now:   time.Now,
	}
}

// Get returns the cached snapshot or refreshes it when expired.
// Concurrent refreshes are coalesced.
func (s *SummaryService) Get(ctx context.Context) (SummaryResult, error) {
	if res, ok := s.fresh(); ok {
		return res, nil
	}

	v, err, _ := s.sg.Do("summary-refresh", func() (any, error) {
		if res, ok := s.fresh(); ok {
			return res, nil
		}

		start := s.now()
		data, err := s.refresh(ctx)
		if err != nil {
			if s.opts.AllowStaleOnError {
				s.mu.RLock()
				defer s.mu.RUnlock()
				if s.cache != nil {
					s.log.Warn("summary refresh failed; serving stale", zap.Error(err))
					return SummaryResult{Data: slices.Clone(s.cache), CacheHit: true, GeneratedAt: s.genAt}, nil
				}
			}
			return nil, err
		}

		s.mu.Lock()
		s.cache = data
		s.expires = s.now().Add(s.opts.TTL)
		s.genAt = start
		s.mu.Unlock()

		return SummaryResult{Data: slices.Clone(data), GeneratedAt: start}, nil
	})
	if err != nil {
		return SummaryResult{}, err
	}
	return v.(SummaryResult), nil
}

// Invalidate drops the snapshot so the next Get refreshes.
func (s *SummaryService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.expires = time.Time{}
	s.genAt = time.Time{}
	s.mu.Unlock()
}

func (s *SummaryService) fresh() (SummaryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache != nil && s.now().Before(s.expires) {
		return SummaryResult{Data: slices.Clone(s.cache), CacheHit: true, GeneratedAt: s.genAt}, true
	}
	return SummaryResult{}, false
}

func (s *SummaryService) refresh(ctx context.Context) ([]dto.SettingsSummary, error) {
	recs := s.store.GetList()
	out := make([]dto.SettingsSummary, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sum := dto.SettingsSummary{Settings: rec}
		ref, err := rec.ServiceRef()
		if err != nil {
			sum.Error = err.Error()
			out = append(out, sum)
			continue
		}
		if sum.UnitPresent, err = s.units.Exists(ref); err != nil {
			sum.Error = err.Error()
		}
		if ok, err := playoutcfg.FileExists(rec.PlayoutConfig); err != nil {
			sum.Error = err.Error()
		} else {
			sum.ConfigPresent = ok
		}
		out = append(out, sum)
	}
	return out, nil
}
