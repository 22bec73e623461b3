package repository

import (
	"fmt"
	"regexp"

	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

var dataURIPrefix = regexp.MustCompile(`^data:(.+);base64,`)

// ArticleRepository stores articles and their images.
type ArticleRepository struct {
	syncRecords[*models.Article]

	images  *store.Collection[*models.ArticleImage]
	entries *store.Collection[*models.ProductEntry]
}

// ByBarcode returns the article with the given barcode.
func (r *ArticleRepository) ByBarcode(barcode string) (*models.Article, bool, error) {
	return r.coll.All().Filter(models.FieldBarcode, store.Eq, barcode).First()
}

// Ensure returns the local article with the barcode, creating it when
// there is none. Articles without barcode are always created.
func (r *ArticleRepository) Ensure(barcode, name string) (*models.Article, error) {
	if barcode != "" {
		a, found, err := r.ByBarcode(barcode)
		if err != nil || found {
			return a, err
		}
	}

	a := &models.Article{SyncState: models.NewSyncState(r.now()), Barcode: barcode, Name: name}
	if err := r.coll.Save(a); err != nil {
		return nil, err
	}

	return a, nil
}

// Images returns the images of an article.
func (r *ArticleRepository) Images(articleID string) ([]*models.ArticleImage, error) {
	return r.images.All().Filter(models.FieldArticleID, store.Eq, articleID).Order(models.FieldCreatedAt, true).List()
}

// AddImage attaches a picture given as data URI to an article.
func (r *ArticleRepository) AddImage(articleID, dataURI, extName string) (*models.ArticleImage, error) {
	md := dataURIPrefix.FindStringSubmatch(dataURI)
	if md == nil {
		return nil, fmt.Errorf("invalid image data")
	}

	img := &models.ArticleImage{
		SyncState:       models.NewSyncState(r.now()),
		ArticleID:       articleID,
		ImageData:       dataURI,
		MimeType:        md[1],
		OriginalExtName: extName,
	}

	if err := r.images.Save(img); err != nil {
		return nil, err
	}

	return img, nil
}

// FromRemote converts an article payload into an unsaved record.
func (r *ArticleRepository) FromRemote(p remote.ArticlePayload) *models.Article {
	a := &models.Article{
		SyncState: models.SyncState{InSync: true},
		Barcode:   p.Barcode,
		Name:      p.Name,
	}

	if p.ID != 0 {
		a.ServerID = models.Int64(p.ID)
	}

	return a
}

// ToRemote converts an article and its images into the wire form.
// Images whose data has not been loaded are left out.
func (r *ArticleRepository) ToRemote(a *models.Article, images []*models.ArticleImage) (remote.ArticlePayload, error) {
	p := remote.ArticlePayload{
		ID:      a.ServerIDValue(),
		Barcode: a.Barcode,
		Name:    a.Name,
		Images:  []remote.ArticleImagePayload{},
	}

	for _, img := range images {
		if img.ImageData == "" {
			continue
		}

		md := dataURIPrefix.FindStringSubmatch(img.ImageData)
		if md == nil {
			return p, fmt.Errorf("article image %s: invalid image data", img.ID)
		}

		p.Images = append(p.Images, remote.ArticleImagePayload{
			ID:              img.ServerIDValue(),
			ImageData:       img.ImageData[len(md[0]):],
			MimeType:        md[1],
			OriginalExtName: img.OriginalExtName,
		})
	}

	return p, nil
}

// ReconcileByRemoteID matches a pulled article by canonical id, then by
// barcode, and creates it when neither matches. Images reported by the
// server are reconciled by canonical id under the article.
func (r *ArticleRepository) ReconcileByRemoteID(p remote.ArticlePayload) (*models.Article, bool, error) {
	var (
		a     *models.Article
		found bool
		err   error
	)

	if p.ID != 0 {
		if a, found, err = r.ByServerID(p.ID); err != nil {
			return nil, false, err
		}
	}

	if !found && p.Barcode != "" {
		if a, found, err = r.ByBarcode(p.Barcode); err != nil {
			return nil, false, err
		}
	}

	if !found {
		a = &models.Article{SyncState: models.NewSyncState(r.now())}
	}

	if p.ID != 0 {
		a.ServerID = models.Int64(p.ID)
	}

	if p.Barcode != "" {
		a.Barcode = p.Barcode
	}

	a.Name = p.Name
	a.InSync = true

	if err := r.coll.Save(a); err != nil {
		return nil, false, err
	}

	for _, ip := range p.Images {
		if err := r.reconcileImage(a.ID, ip); err != nil {
			return nil, false, err
		}
	}

	return a, !found, nil
}

func (r *ArticleRepository) reconcileImage(articleID string, p remote.ArticleImagePayload) error {
	if p.ID == 0 {
		return nil
	}

	img, found, err := r.images.All().
		Filter(models.FieldArticleID, store.Eq, articleID).
		Filter(models.FieldServerID, store.Eq, p.ID).
		First()
	if err != nil {
		return err
	}

	if !found {
		img = &models.ArticleImage{SyncState: models.NewSyncState(r.now()), ArticleID: articleID}
		img.ServerID = models.Int64(p.ID)
	}

	img.InSync = true

	if p.OriginalExtName != "" {
		img.OriginalExtName = p.OriginalExtName
	}

	if p.MimeType != "" && p.ImageData != "" {
		img.MimeType = p.MimeType
		img.ImageData = "data:" + p.MimeType + ";base64," + p.ImageData
	}

	return r.images.Save(img)
}

// PushOutcome tells the caller what to do after the server echoed an
// article with a pushed entry.
type PushOutcome struct {
	// RemapFrom and RemapTo are set when the server merged the article
	// into one that already exists locally under another local id.
	RemapFrom string
	RemapTo   string
}

// Remapped reports whether foreign keys have to be rewritten.
func (o PushOutcome) Remapped() bool {
	return o.RemapFrom != "" && o.RemapFrom != o.RemapTo
}

// ApplyPushEcho records the canonical id the server reported for a
// pushed article. When another local article already carries that id,
// nothing is written and the outcome asks for a remap from the pushed
// article to the existing one.
func (r *ArticleRepository) ApplyPushEcho(localID string, p remote.ArticlePayload) (PushOutcome, error) {
	if p.ID == 0 {
		return PushOutcome{}, nil
	}

	existing, found, err := r.ByServerID(p.ID)
	if err != nil {
		return PushOutcome{}, err
	}

	if found && existing.ID != localID {
		return PushOutcome{RemapFrom: localID, RemapTo: existing.ID}, nil
	}

	err = r.coll.Patch(localID, map[string]any{models.FieldServerID: p.ID, models.FieldInSync: true})
	if err != nil {
		if isNotFound(err) {
			return PushOutcome{}, nil
		}

		return PushOutcome{}, err
	}

	return PushOutcome{}, r.adoptImageIDs(localID, p.Images)
}

// adoptImageIDs hands the canonical ids of echoed images that are not yet
// known locally to the local images still waiting for one, oldest first.
func (r *ArticleRepository) adoptImageIDs(articleID string, echoed []remote.ArticleImagePayload) error {
	pending, err := r.images.All().
		Filter(models.FieldArticleID, store.Eq, articleID).
		Filter(models.FieldServerID, store.Eq, nil).
		Order(models.FieldCreatedAt, true).
		List()
	if err != nil || len(pending) == 0 {
		return err
	}

	for _, ip := range echoed {
		if len(pending) == 0 {
			break
		}

		if ip.ID == 0 {
			continue
		}

		n, err := r.images.All().Filter(models.FieldServerID, store.Eq, ip.ID).Count()
		if err != nil {
			return err
		}

		if n > 0 {
			continue
		}

		err = r.images.Patch(pending[0].ID, map[string]any{models.FieldServerID: ip.ID, models.FieldInSync: true})
		if err != nil && !isNotFound(err) {
			return err
		}

		pending = pending[1:]
	}

	return nil
}

// RemapArticle rewrites every foreign key pointing at article oldID to newID
// and removes the orphaned article. Images that only exist locally move
// to the new article; images the server knows are dropped with the
// orphan. It returns the number of entries rewritten.
func (r *ArticleRepository) RemapArticle(oldID, newID string) (int, error) {
	if oldID == newID {
		return 0, nil
	}

	n, err := r.entries.All().Filter(models.FieldArticleID, store.Eq, oldID).UpdateField(models.FieldArticleID, newID)
	if err != nil {
		return 0, fmt.Errorf("remapping entries of article %s: %w", oldID, err)
	}

	_, err = r.images.All().
		Filter(models.FieldArticleID, store.Eq, oldID).
		Filter(models.FieldServerID, store.Eq, nil).
		UpdateField(models.FieldArticleID, newID)
	if err != nil {
		return n, fmt.Errorf("moving images of article %s: %w", oldID, err)
	}

	if err := r.HardDelete(oldID); err != nil {
		return n, fmt.Errorf("deleting orphaned article %s: %w", oldID, err)
	}

	return n, nil
}
