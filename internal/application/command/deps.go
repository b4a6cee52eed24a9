package command

import (
	"time"

	"github.com/subvoyager/subvoyager/config"
	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/user"
	"github.com/subvoyager/subvoyager/pkg/logger"
)

// Deps are the collaborators shared by every command handler.
type Deps struct {
	Expeditions expedition.Repository
	Users       user.Repository

	// Features may be nil; every flag then reads as disabled.
	Features *config.FeatureFlags

	// Metrics may be nil.
	Metrics *Metrics

	// Logger defaults to a no-op logger.
	Logger *logger.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (d Deps) withDefaults(component string) Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	d.Logger = d.Logger.With(logger.Component(component))
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}
