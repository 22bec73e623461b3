package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// User is a remote account known to this replica: the logged-in user and
// the creators of shared locations and entries.
type User struct {
	SyncState

	UserName     string `json:"userName"`
	Email        string `json:"email"`
	UsedForLogin bool   `json:"usedForLogin"`
}

// Location is a place inventory entries are stored in. Exactly one
// location per replica is created as the default.
type Location struct {
	SyncState

	Name       string  `json:"name"`
	IsSelected bool    `json:"isSelected"`
	IsDefault  bool    `json:"isDefault"`
	CreatorID  *string `json:"creatorId"`

	Creator *User `json:"-"`
}

// Link implements store.Linker.
func (l *Location) Link(relation string, related []byte) error {
	switch relation {
	case RelCreator:
		return link(&l.Creator, related)
	default:
		return fmt.Errorf("location has no relation %q", relation)
	}
}

// LocationShare grants a user other than the creator access to a
// location. Shares travel inside their location's payload and are
// replaced wholesale whenever the location is pulled.
type LocationShare struct {
	ID         string    `json:"id"`
	LocationID string    `json:"locationId"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`

	User *User `json:"-"`
}

// RecordID implements store.Record.
func (s *LocationShare) RecordID() string {
	return s.ID
}

// Link implements store.Linker.
func (s *LocationShare) Link(relation string, related []byte) error {
	switch relation {
	case RelUser:
		return link(&s.User, related)
	default:
		return fmt.Errorf("location share has no relation %q", relation)
	}
}

// Article is a product identified by barcode. The server deduplicates
// articles, so the canonical id of an article can change on push.
type Article struct {
	SyncState

	Barcode string `json:"barcode"`
	Name    string `json:"name"`
}

// ArticleImage is a picture of an article. ImageData is a data URI.
type ArticleImage struct {
	SyncState

	ArticleID       string `json:"articleId"`
	ImageData       string `json:"imageData"`
	MimeType        string `json:"mimeType"`
	OriginalExtName string `json:"originalExtName"`
}

// ProductEntry is one inventory item: an amount of an article stored in
// a location until its expiration date.
type ProductEntry struct {
	SyncState

	Amount         int        `json:"amount"`
	Description    string     `json:"description"`
	FreeToTake     bool       `json:"freeToTake"`
	ExpirationDate *time.Time `json:"expirationDate"`
	ArticleID      *string    `json:"articleId"`
	LocationID     string     `json:"locationId"`
	CreatorID      *string    `json:"creatorId"`

	Article  *Article  `json:"-"`
	Location *Location `json:"-"`
	Creator  *User     `json:"-"`
}

// Link implements store.Linker.
func (e *ProductEntry) Link(relation string, related []byte) error {
	switch relation {
	case RelArticle:
		return link(&e.Article, related)
	case RelLocation:
		return link(&e.Location, related)
	case RelCreator:
		return link(&e.Creator, related)
	default:
		return fmt.Errorf("product entry has no relation %q", relation)
	}
}

// Setting is a key/value pair of client configuration. The key is the
// record id.
type Setting struct {
	Key       string    `json:"id"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordID implements store.Record.
func (s *Setting) RecordID() string {
	return s.Key
}

func link[T any](dst **T, related []byte) error {
	if related == nil {
		*dst = nil
		return nil
	}

	v := new(T)
	if err := json.Unmarshal(related, v); err != nil {
		return err
	}

	*dst = v

	return nil
}
