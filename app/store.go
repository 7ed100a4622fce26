package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/config"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/infra/persistence"
)

// OpenStore opens the configured repository, replays it into a store and
// applies the provisioning file. The returned function releases the
// repository.
func OpenStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*store.Store, func(), error) {
	repo, release, err := persistence.Open(ctx, cfg.Persistence.Backend, cfg.Persistence.Target())
	if err != nil {
		return nil, nil, err
	}
	st := store.New(cfg.Store.Core(cfg.Validation, cfg.Estimator), repo, clock, logger.New("store"))
	if err := st.Load(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("load store: %w", err)
	}
	if cfg.Persistence.TanksFile != "" {
		tanks, err := config.LoadTanks(cfg.Persistence.TanksFile)
		if err != nil {
			release()
			return nil, nil, err
		}
		if err := provision(ctx, st, tanks); err != nil {
			release()
			return nil, nil, err
		}
	}
	return st, release, nil
}

// provision registers unknown tanks and recalibrates tanks whose file entry
// differs from the stored geometry. Invalid geometries are logged by the
// store and only block their own tank.
func provision(ctx context.Context, st *store.Store, tanks []model.TankGeometry) error {
	log := logger.New("provision")
	for _, g := range tanks {
		cur, err := st.Geometry(g.TankID)
		if err == nil || !errors.Is(err, model.ErrUnknownTank) {
			if sameGeometry(cur, g) {
				continue
			}
			log.Infof("tank %s: geometry changed, recalibrating", g.TankID)
		}
		_, err = st.Provision(ctx, g)
		var gerr *model.GeometryConfigError
		if errors.As(err, &gerr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("provision %s: %w", g.TankID, err)
		}
	}
	return nil
}

func sameGeometry(a, b model.TankGeometry) bool {
	a.Version, b.Version = 0, 0
	a.CreatedAt = b.CreatedAt
	if len(a.Table) == 0 && len(b.Table) == 0 {
		a.Table, b.Table = nil, nil
	}
	return reflect.DeepEqual(a, b)
}
