package repository

import (
	"testing"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pngURI = "data:image/png;base64,iVBORw0KGgo="

func TestEnsureArticle_ReusesBarcode(t *testing.T) {
	r, _ := testRepos(t)

	a, err := r.Articles.Ensure("4006381333931", "Pen")
	require.NoError(t, err)

	b, err := r.Articles.Ensure("4006381333931", "Other")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Pen", b.Name)

	c, err := r.Articles.Ensure("", "Loose apples")
	require.NoError(t, err)
	d, err := r.Articles.Ensure("", "Loose apples")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, d.ID)
}

func TestArticleToRemote_StripsDataURI(t *testing.T) {
	r, _ := testRepos(t)

	a, err := r.Articles.Ensure("123", "Pen")
	require.NoError(t, err)

	_, err = r.Articles.AddImage(a.ID, pngURI, ".png")
	require.NoError(t, err)

	images, err := r.Articles.Images(a.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MimeType)

	p, err := r.Articles.ToRemote(a, images)
	require.NoError(t, err)
	assert.Equal(t, "123", p.Barcode)
	require.Len(t, p.Images, 1)
	assert.Equal(t, "iVBORw0KGgo=", p.Images[0].ImageData)
	assert.Equal(t, "image/png", p.Images[0].MimeType)
	assert.Equal(t, ".png", p.Images[0].OriginalExtName)
}

func TestArticleToRemote_InvalidImage(t *testing.T) {
	r, _ := testRepos(t)

	a := &models.Article{Name: "Pen"}
	images := []*models.ArticleImage{{ImageData: "not a data uri"}}

	_, err := r.Articles.ToRemote(a, images)
	assert.Error(t, err)

	_, err = r.Articles.AddImage("a1", "not a data uri", "")
	assert.Error(t, err)
}

func TestArticleReconcile_MatchesByBarcode(t *testing.T) {
	r, _ := testRepos(t)

	local, err := r.Articles.Ensure("123", "Pen")
	require.NoError(t, err)

	p := remote.ArticlePayload{
		ID:      77,
		Barcode: "123",
		Name:    "Ballpoint pen",
		Images:  []remote.ArticleImagePayload{{ID: 700, ImageData: "iVBORw0KGgo=", MimeType: "image/png"}},
	}

	a, created, err := r.Articles.ReconcileByRemoteID(p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, local.ID, a.ID)
	assert.Equal(t, int64(77), a.ServerIDValue())
	assert.Equal(t, "Ballpoint pen", a.Name)

	_, _, err = r.Articles.ReconcileByRemoteID(p)
	require.NoError(t, err)

	images, err := r.Articles.Images(a.ID)
	require.NoError(t, err)
	require.Len(t, images, 1, "images are matched by canonical id")
	assert.Equal(t, pngURI, images[0].ImageData)
}

func TestArticleReconcile_Creates(t *testing.T) {
	r, _ := testRepos(t)

	a, created, err := r.Articles.ReconcileByRemoteID(remote.ArticlePayload{ID: 5, Name: "Bread"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, a.InSync)

	b, created, err := r.Articles.ReconcileByRemoteID(remote.ArticlePayload{ID: 5, Name: "Rye bread"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, b.ID)
}

func TestApplyPushEcho(t *testing.T) {
	r, _ := testRepos(t)

	a, err := r.Articles.Ensure("123", "Pen")
	require.NoError(t, err)

	out, err := r.Articles.ApplyPushEcho(a.ID, remote.ArticlePayload{ID: 50})
	require.NoError(t, err)
	assert.False(t, out.Remapped())

	got, _, err := r.Articles.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.ServerIDValue())

	dup, err := r.Articles.Ensure("", "Pen")
	require.NoError(t, err)

	out, err = r.Articles.ApplyPushEcho(dup.ID, remote.ArticlePayload{ID: 50})
	require.NoError(t, err)
	require.True(t, out.Remapped())
	assert.Equal(t, dup.ID, out.RemapFrom)
	assert.Equal(t, a.ID, out.RemapTo)

	got, _, err = r.Articles.Get(dup.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ServerID, "the duplicate is left for the remap")

	out, err = r.Articles.ApplyPushEcho(dup.ID, remote.ArticlePayload{})
	require.NoError(t, err)
	assert.False(t, out.Remapped())
}

func TestApplyPushEcho_AdoptsImageIDs(t *testing.T) {
	r, c := testRepos(t)

	a, err := r.Articles.Ensure("123", "Pen")
	require.NoError(t, err)

	first, err := r.Articles.AddImage(a.ID, pngURI, ".png")
	require.NoError(t, err)
	c.advance(time.Second)
	second, err := r.Articles.AddImage(a.ID, pngURI, ".png")
	require.NoError(t, err)

	_, err = r.Articles.ApplyPushEcho(a.ID, remote.ArticlePayload{
		ID:     50,
		Images: []remote.ArticleImagePayload{{ID: 500}},
	})
	require.NoError(t, err)

	got, _, err := r.Articles.Get(a.ID)
	require.NoError(t, err)
	assert.True(t, got.InSync)

	images, err := r.Articles.Images(a.ID)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, first.ID, images[0].ID)
	assert.Equal(t, int64(500), images[0].ServerIDValue())
	assert.Equal(t, second.ID, images[1].ID)
	assert.Nil(t, images[1].ServerID)
}

func TestRemapArticle(t *testing.T) {
	r, _ := testRepos(t)

	loc, err := r.Locations.Create("Cellar", nil)
	require.NoError(t, err)

	keep, err := r.Articles.Ensure("123", "Pen")
	require.NoError(t, err)

	e, err := r.Entries.Add(NewEntry{LocationID: loc.ID, ArticleName: "Pen"})
	require.NoError(t, err)
	orphan := *e.ArticleID

	_, err = r.Articles.AddImage(orphan, pngURI, ".png")
	require.NoError(t, err)

	n, err := r.Articles.RemapArticle(orphan, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _, err := r.Entries.Get(e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArticleID)
	assert.Equal(t, keep.ID, *got.ArticleID)

	_, found, err := r.Articles.Get(orphan)
	require.NoError(t, err)
	assert.False(t, found)

	images, err := r.Articles.Images(keep.ID)
	require.NoError(t, err)
	assert.Len(t, images, 1, "local images move to the kept article")
}
