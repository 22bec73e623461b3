package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Date is a timestamp in the HTTP date format (RFC 2616) the server uses
// in payloads. The zero value encodes as null.
type Date struct {
	time.Time
}

// NewDate returns t as a Date. A nil t gives the zero Date.
func NewDate(t *time.Time) Date {
	if t == nil {
		return Date{}
	}

	return Date{Time: t.UTC()}
}

// Ptr returns the time, or nil for the zero Date.
func (d Date) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}

	t := d.UTC()

	return &t
}

// FormatHTTPDate formats t the way the server expects dates in query
// parameters and payloads.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseHTTPDate parses an HTTP date. RFC 3339 is accepted as well.
func ParseHTTPDate(s string) (time.Time, error) {
	t, err := http.ParseTime(s)
	if err == nil {
		return t.UTC(), nil
	}

	if t, rerr := time.Parse(time.RFC3339Nano, s); rerr == nil {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(FormatHTTPDate(d.Time))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s == nil || *s == "" {
		d.Time = time.Time{}
		return nil
	}

	t, err := ParseHTTPDate(*s)
	if err != nil {
		return err
	}

	d.Time = t

	return nil
}

// UserPayload is a user as the server reports it.
type UserPayload struct {
	ID       int64  `json:"id"`
	UserName string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the body of a sign-in call. Login is a user name or an
// email address.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LocationPayload is the wire form of a location. Users lists everyone
// the location is shared with, the requesting user included.
type LocationPayload struct {
	ID        int64         `json:"id,omitempty"`
	Name      string        `json:"name"`
	CreatedAt Date          `json:"created_at"`
	UpdatedAt Date          `json:"updated_at"`
	DeletedAt Date          `json:"deleted_at"`
	Creator   *UserPayload  `json:"creator,omitempty"`
	Users     []UserPayload `json:"users,omitempty"`
}

// ArticleImagePayload is the wire form of an article image. ImageData is
// base64 without the data URI prefix.
type ArticleImagePayload struct {
	ID              int64  `json:"id,omitempty"`
	ImageData       string `json:"image_data,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	OriginalExtName string `json:"original_extname,omitempty"`
}

// ArticlePayload is the wire form of an article.
type ArticlePayload struct {
	ID      int64                 `json:"id,omitempty"`
	Barcode string                `json:"barcode,omitempty"`
	Name    string                `json:"name"`
	Images  []ArticleImagePayload `json:"images"`
}

// EntryPayload is the wire form of a product entry.
type EntryPayload struct {
	ID             int64          `json:"id,omitempty"`
	Description    string         `json:"description"`
	FreeToTake     bool           `json:"free_to_take"`
	Amount         int            `json:"amount"`
	LocationID     int64          `json:"location_id"`
	ExpirationDate Date           `json:"expiration_date"`
	CreatedAt      Date           `json:"created_at"`
	UpdatedAt      Date           `json:"updated_at"`
	DeletedAt      Date           `json:"deleted_at"`
	Article        ArticlePayload `json:"article"`
	Creator        *UserPayload   `json:"creator,omitempty"`
}

// LocationChanges is the answer to a location change-set request.
type LocationChanges struct {
	Clock
	Changed []LocationPayload
	Deleted []LocationPayload
}

// EntryChanges is the answer to a product entry change-set request.
type EntryChanges struct {
	Clock
	Changed []EntryPayload
	Deleted []EntryPayload
}

// LocationResult is the server echo of a pushed location.
type LocationResult struct {
	Clock
	Location LocationPayload
}

// EntryResult is the server echo of a pushed product entry.
type EntryResult struct {
	Clock
	Entry EntryPayload
}

// UserResult is the answer to a sign-in call.
type UserResult struct {
	Clock
	User UserPayload
}

// ArticleResult is the answer to an article lookup.
type ArticleResult struct {
	Clock
	Article ArticlePayload
}
