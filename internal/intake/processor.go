package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bamelis/regrelay/internal/events"
	"github.com/bamelis/regrelay/pkg/db/models"
	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/metrics"
	"github.com/bamelis/regrelay/pkg/types"
)

// birthSuppressionAge keeps fresh birth events out of the store until the
// registry has had time to settle the record.
const birthSuppressionAge = 6 * 30 * 24 * time.Hour

type eventStore interface {
	StoreEvent(ctx context.Context, event types.LifeEvent) (*models.EventRecord, error)
	ExistsByEventIDAndCategory(ctx context.Context, eventID string, category enums.EventCategory) (bool, error)
}

// Processor applies the per-category intake rules and persists what survives.
type Processor struct {
	store   eventStore
	logg    *logger.Logger
	metrics *metrics.IntakeMetrics
	now     func() time.Time
}

// NewProcessor constructs the intake processor.
func NewProcessor(store eventStore, logg *logger.Logger, m *metrics.IntakeMetrics) (*Processor, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Processor{
		store:   store,
		logg:    logg,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Process runs one life event through its category rule. A nil return means
// the message is settled (stored, suppressed, or a known duplicate); an error
// means storage failed and the message should be redelivered.
func (p *Processor) Process(ctx context.Context, event types.LifeEvent) error {
	logCtx := p.logg.WithEventID(ctx, event.EventID)
	logCtx = p.logg.WithCategory(logCtx, event.Category.String())
	logCtx = p.logg.WithField(logCtx, "change_kind", string(event.ChangeKind))
	if actorID := event.CurrentActorID(); actorID != "" {
		logCtx = p.logg.WithActorID(logCtx, actorID)
	}

	p.metrics.IncReceived(event.Category.String(), string(event.ChangeKind))

	if event.Category == enums.CategoryUnsupported {
		p.logg.Info(logCtx, "skipping unsupported event category")
		p.metrics.IncIgnored(event.Category.String())
		return nil
	}

	exists, err := p.store.ExistsByEventIDAndCategory(ctx, event.EventID, event.Category)
	if err != nil {
		return fmt.Errorf("dedup check for %s: %w", event.EventID, err)
	}
	if exists {
		p.logg.Info(logCtx, "event already stored")
		p.metrics.IncDuplicate()
		return nil
	}

	persist := true
	switch event.Category {
	case enums.CategoryDeath:
		persist = p.applyDeathRule(logCtx, event)
	case enums.CategoryBirth:
		persist = p.applyBirthRule(logCtx, event)
	case enums.CategoryName:
		persist = p.applyNameRule(logCtx, event)
	case enums.CategoryNationalID:
		p.applyNationalIDRule(logCtx, event)
	case enums.CategoryImmigration, enums.CategoryEmigration:
		persist = p.applyMigrationRule(logCtx, event)
	case enums.CategoryMaritalStatus:
		persist = p.applyMaritalStatusRule(logCtx, event)
	case enums.CategoryAddressProtection:
		logCtx = p.logg.WithField(logCtx, "classification", string(event.Classification))
		p.warnOnUnexpectedKind(logCtx, event)
	case enums.CategoryResidentialAddress:
		p.warnOnUnexpectedKind(logCtx, event)
	case enums.CategoryGuardianship:
		if event.Guardianship != nil {
			logCtx = p.logg.WithField(logCtx, "guardianship_scope", event.Guardianship.Scope)
		}
		p.warnOnUnexpectedKind(logCtx, event)
	}
	if !persist {
		p.metrics.IncIgnored(event.Category.String())
		return nil
	}

	if _, err := p.store.StoreEvent(ctx, event); err != nil {
		if errors.Is(err, events.ErrDuplicateEvent) {
			p.logg.Info(logCtx, "event already stored")
			p.metrics.IncDuplicate()
			return nil
		}
		return err
	}
	p.logg.Info(logCtx, "event stored")
	return nil
}

// closesChain reports whether the change kind voids an earlier event. Such
// events persist unconditionally: they usually carry no payload, and dropping
// one would leave its predecessor live.
func closesChain(kind enums.ChangeKind) bool {
	return kind == enums.ChangeAnnulled || kind == enums.ChangeClosed
}

func (p *Processor) applyDeathRule(ctx context.Context, event types.LifeEvent) bool {
	if closesChain(event.ChangeKind) {
		return true
	}
	if event.DeathDate == nil {
		p.logg.Warn(ctx, "dropping death event without death date")
		return false
	}
	p.logg.Info(p.logg.WithField(ctx, "death_date", event.DeathDate.String()), "death event received")
	return true
}

func (p *Processor) applyBirthRule(ctx context.Context, event types.LifeEvent) bool {
	if closesChain(event.ChangeKind) {
		return true
	}
	if event.Birth == nil || event.Birth.Date == nil {
		p.logg.Warn(ctx, "dropping birth event without birth date")
		return false
	}
	ctx = p.logg.WithFields(ctx, map[string]any{
		"birth_date":    event.Birth.Date.String(),
		"birth_country": event.Birth.Country,
	})
	// Fresh births are suppressed until the record is old enough; the
	// registry keeps correcting them in the meantime.
	if event.Birth.Date.After(p.now().Add(-birthSuppressionAge)) {
		p.logg.Info(ctx, "suppressing recent birth event")
		return false
	}
	p.logg.Info(ctx, "birth event received")
	return true
}

func (p *Processor) applyNameRule(ctx context.Context, event types.LifeEvent) bool {
	if closesChain(event.ChangeKind) {
		return true
	}
	if event.Name == nil || event.Name.First == "" || event.Name.Last == "" {
		p.logg.Warn(ctx, "dropping name event without first and last name")
		return false
	}
	return true
}

func (p *Processor) applyNationalIDRule(ctx context.Context, event types.LifeEvent) {
	// Advisory only: a malformed payload is logged but still persisted.
	if event.NationalID == nil || event.NationalID.IdentifierType == "" {
		p.logg.Warn(ctx, "national id event without identifier type")
	}
}

func (p *Processor) applyMigrationRule(ctx context.Context, event types.LifeEvent) bool {
	switch event.ChangeKind {
	case enums.ChangeCreated, enums.ChangeAnnulled:
		return true
	default:
		p.logg.Warn(ctx, "dropping migration event with unsupported change kind")
		return false
	}
}

func (p *Processor) applyMaritalStatusRule(ctx context.Context, event types.LifeEvent) bool {
	switch event.ChangeKind {
	case enums.ChangeCreated, enums.ChangeCorrected, enums.ChangeAnnulled:
		return true
	default:
		p.logg.Warn(ctx, "dropping marital status event with unsupported change kind")
		return false
	}
}

func (p *Processor) warnOnUnexpectedKind(ctx context.Context, event types.LifeEvent) {
	if event.ChangeKind != enums.ChangeCreated {
		p.logg.Warn(ctx, "unexpected change kind for always-stored category")
	}
}
