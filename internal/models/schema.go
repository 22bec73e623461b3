package models

import "github.com/alexjbarnes/pantry-sync/internal/store"

// Collection names.
const (
	Users          = "users"
	Locations      = "locations"
	LocationShares = "locationShares"
	Articles       = "articles"
	ArticleImages  = "articleImages"
	ProductEntries = "productEntries"
	Settings       = "settings"
)

// Field names shared by queries across packages.
const (
	FieldServerID           = "serverId"
	FieldInSync             = "inSync"
	FieldSyncInProgress     = "syncInProgress"
	FieldLastSuccessfulSync = "lastSuccessfulSync"
	FieldDeletedAt          = "deletedAt"
	FieldCreatedAt          = "createdAt"
	FieldUpdatedAt          = "updatedAt"

	FieldName       = "name"
	FieldIsDefault  = "isDefault"
	FieldIsSelected = "isSelected"
	FieldCreatorID  = "creatorId"
	FieldLocationID = "locationId"
	FieldArticleID  = "articleId"
	FieldUserID     = "userId"
	FieldBarcode    = "barcode"
	FieldValue      = "value"
)

// Relation names.
const (
	RelCreator  = "creator"
	RelUser     = "user"
	RelArticle  = "article"
	RelLocation = "location"
)

var syncFields = map[string]store.FieldType{
	FieldServerID:           store.Int,
	FieldInSync:             store.Bool,
	FieldSyncInProgress:     store.Bool,
	FieldLastSuccessfulSync: store.Time,
	FieldDeletedAt:          store.Time,
	FieldCreatedAt:          store.Time,
	FieldUpdatedAt:          store.Time,
}

var syncIndexes = []string{FieldServerID, FieldInSync, FieldSyncInProgress, FieldDeletedAt}

func syncSchema(name string, fields map[string]store.FieldType, indexes ...string) store.Schema {
	all := make(map[string]store.FieldType, len(syncFields)+len(fields))
	for k, v := range syncFields {
		all[k] = v
	}

	for k, v := range fields {
		all[k] = v
	}

	return store.Schema{
		Name:    name,
		Fields:  all,
		Indexes: append(append([]string(nil), syncIndexes...), indexes...),
	}
}

// Schemas returns the descriptors of every collection in the replica.
func Schemas() []store.Schema {
	users := syncSchema(Users, map[string]store.FieldType{
		"userName":     store.String,
		"email":        store.String,
		"usedForLogin": store.Bool,
	})

	locations := syncSchema(Locations, map[string]store.FieldType{
		FieldName:       store.String,
		FieldIsSelected: store.Bool,
		FieldIsDefault:  store.Bool,
		FieldCreatorID:  store.String,
	}, FieldIsDefault, FieldCreatorID)
	locations.Relations = map[string]store.Relation{
		RelCreator: {Field: FieldCreatorID, Target: Users},
	}
	locations.Cascades = []store.Cascade{
		{Target: LocationShares, Field: FieldLocationID},
		{Target: ProductEntries, Field: FieldLocationID},
	}

	shares := store.Schema{
		Name: LocationShares,
		Fields: map[string]store.FieldType{
			FieldLocationID: store.String,
			FieldUserID:     store.String,
			FieldCreatedAt:  store.Time,
		},
		Indexes: []string{FieldLocationID, FieldUserID},
		Relations: map[string]store.Relation{
			RelUser: {Field: FieldUserID, Target: Users},
		},
	}

	articles := syncSchema(Articles, map[string]store.FieldType{
		FieldBarcode: store.String,
		FieldName:    store.String,
	}, FieldBarcode)
	articles.Cascades = []store.Cascade{{Target: ArticleImages, Field: FieldArticleID}}

	images := syncSchema(ArticleImages, map[string]store.FieldType{
		FieldArticleID:    store.String,
		"imageData":       store.String,
		"mimeType":        store.String,
		"originalExtName": store.String,
	}, FieldArticleID)
	images.Relations = map[string]store.Relation{
		RelArticle: {Field: FieldArticleID, Target: Articles},
	}

	entries := syncSchema(ProductEntries, map[string]store.FieldType{
		"amount":         store.Int,
		"description":    store.String,
		"freeToTake":     store.Bool,
		"expirationDate": store.Time,
		FieldArticleID:   store.String,
		FieldLocationID:  store.String,
		FieldCreatorID:   store.String,
	}, FieldArticleID, FieldLocationID, FieldCreatorID)
	entries.Relations = map[string]store.Relation{
		RelArticle:  {Field: FieldArticleID, Target: Articles},
		RelLocation: {Field: FieldLocationID, Target: Locations},
		RelCreator:  {Field: FieldCreatorID, Target: Users},
	}

	settings := store.Schema{
		Name: Settings,
		Fields: map[string]store.FieldType{
			FieldValue:     store.String,
			FieldUpdatedAt: store.Time,
		},
	}

	return []store.Schema{users, locations, shares, articles, images, entries, settings}
}
