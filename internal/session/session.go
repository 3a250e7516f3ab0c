package session

import (
	"time"

	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/valueindex"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	SESSION_SRC_NAME = "/plvalue-session"

	DEFAULT_INVALIDATION_DELAY = 100 * time.Millisecond
)

var (
	DEFAULT_SOURCE_PATTERNS = []string{"**/*.pm", "**/*.pl", "**/*.t"}
)

type Config struct {
	// Store is optional, without a store nothing is known about the return values of subs.
	Store *valueindex.Store

	Options plvalue.ResolutionOptions

	// SourcePatterns are the glob patterns (relative to the watched directories) of the files whose
	// changes invalidate the session, defaults to DEFAULT_SOURCE_PATTERNS.
	SourcePatterns []string

	// InvalidationDelay is the quiet period after a change before the session is invalidated,
	// defaults to DEFAULT_INVALIDATION_DELAY.
	InvalidationDelay time.Duration

	Logger zerolog.Logger
}

// A Session owns the registry in which the values of an analysis are interned. Its id is the epoch
// of the registry: it changes each time the session is invalidated.
type Session struct {
	registry          *plvalue.Registry
	store             *valueindex.Store
	options           plvalue.ResolutionOptions
	sourcePatterns    []string
	invalidationDelay time.Duration
	logger            zerolog.Logger
}

func New(config Config) *Session {
	patterns := config.SourcePatterns
	if len(patterns) == 0 {
		patterns = DEFAULT_SOURCE_PATTERNS
	}
	delay := config.InvalidationDelay
	if delay <= 0 {
		delay = DEFAULT_INVALIDATION_DELAY
	}

	logger := config.Logger.With().Str(plvalue.SOURCE_LOG_FIELD_NAME, SESSION_SRC_NAME).Logger()

	s := &Session{
		registry:          plvalue.NewRegistry(config.Logger),
		store:             config.Store,
		options:           config.Options,
		sourcePatterns:    patterns,
		invalidationDelay: delay,
		logger:            logger,
	}

	s.logger.Debug().Str(plvalue.EPOCH_LOG_FIELD_NAME, s.ID().String()).Msg("session created")
	return s
}

func (s *Session) ID() ulid.ULID {
	return s.registry.Epoch()
}

func (s *Session) Registry() *plvalue.Registry {
	return s.registry
}

// Store returns the store of the session, it may be nil.
func (s *Session) Store() *valueindex.Store {
	return s.store
}

func (s *Session) Scope() plvalue.Scope {
	if s.store == nil {
		return plvalue.NO_SCOPE
	}
	return s.store.Scope(s.registry)
}

// NewResolutionContext creates a context for a single request, it should not be shared between goroutines.
func (s *Session) NewResolutionContext() *plvalue.ResolutionContext {
	return plvalue.NewResolutionContext(s.Scope(), s.options)
}

func (s *Session) NamespaceNames(v plvalue.Value) plvalue.NameSet {
	return plvalue.NamespaceNames(v, s.NewResolutionContext())
}

func (s *Session) SubNames(v plvalue.Value) plvalue.NameSet {
	return plvalue.SubNames(v, s.NewResolutionContext())
}

type Resolution struct {
	Value          plvalue.Value
	NamespaceNames plvalue.NameSet
	SubNames       plvalue.NameSet
}

// Resolve resolves sibling values (e.g. the invocants of a chain of calls) with a single context,
// values shared between them are only resolved once.
func (s *Session) Resolve(values ...plvalue.Value) []Resolution {
	rctx := s.NewResolutionContext()

	resolutions := make([]Resolution, 0, len(values))
	for _, v := range values {
		resolutions = append(resolutions, Resolution{
			Value:          v,
			NamespaceNames: plvalue.NamespaceNames(v, rctx),
			SubNames:       plvalue.SubNames(v, rctx),
		})
	}

	s.logger.Trace().Int("values", len(values)).Int("steps", rctx.Steps()).Msg("values resolved")
	return resolutions
}

// Invalidate drops all the values of the session, values obtained before the call should not be used anymore.
func (s *Session) Invalidate(reason string) {
	previous := s.ID()
	s.registry.Clear()

	s.logger.Info().
		Str("reason", reason).
		Str("previous", previous.String()).
		Str(plvalue.EPOCH_LOG_FIELD_NAME, s.ID().String()).
		Msg("session invalidated")
}
