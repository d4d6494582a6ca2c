package app

import (
	"gorm.io/gorm"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	catalogrepo "github.com/edgeward/fleet-backend/internal/data/repos/catalog"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
)

type Repos struct {
	repos.Set
	Lookup catalogrepo.Lookup
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	set := repos.NewSet(db, log)
	return Repos{
		Set:    set,
		Lookup: catalogrepo.NewLookup(set.Bundle, set.DeviceGroup),
	}
}
