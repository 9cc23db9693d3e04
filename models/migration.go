package models

import (
	"log"

	"bitbucket.org/beaconcrm/reviews_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Client{}, &ReviewRecord{}, &ExternalReviewRaw{},
		&ProviderConnection{}, &ProviderSyncRun{}, &ProviderSyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
