package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/models"
	"github.com/alexjbarnes/pantry-sync/internal/remote"
	"github.com/alexjbarnes/pantry-sync/internal/store"
)

// Setting keys.
const (
	SettingLastSync     = "lastSync"
	SettingTimeSkew     = "timeSkew"
	SettingLastUserID   = "lastUserId"
	SettingLocaleID     = "localeId"
	SettingSyncInterval = "syncInterval"
	SettingOfflineMode  = "offlineMode"
)

// DefaultSyncInterval is the auto-sync period used until the user picks
// another one.
const DefaultSyncInterval = 30 * time.Second

// SettingsRepository stores client settings as string values. lastSync
// is kept as an HTTP date, timeSkew and syncInterval in milliseconds.
type SettingsRepository struct {
	coll *store.Collection[*models.Setting]
	now  func() time.Time
}

// EnsureDefaults inserts every setting that is missing. Existing values
// are left alone.
func (r *SettingsRepository) EnsureDefaults(locale string) error {
	defaults := map[string]string{
		SettingLastSync:     "",
		SettingTimeSkew:     "0",
		SettingLastUserID:   "",
		SettingLocaleID:     locale,
		SettingSyncInterval: strconv.FormatInt(DefaultSyncInterval.Milliseconds(), 10),
		SettingOfflineMode:  "false",
	}

	var missing []*models.Setting

	for key, value := range defaults {
		_, found, err := r.coll.Get(key)
		if err != nil {
			return err
		}

		if !found {
			missing = append(missing, &models.Setting{Key: key, Value: value, UpdatedAt: r.now().UTC()})
		}
	}

	if len(missing) == 0 {
		return nil
	}

	return r.coll.SaveAll(missing)
}

// Get returns the raw value of a setting.
func (r *SettingsRepository) Get(key string) (string, bool, error) {
	s, found, err := r.coll.Get(key)
	if err != nil || !found {
		return "", false, err
	}

	return s.Value, true, nil
}

// Set stores the raw value of a setting.
func (r *SettingsRepository) Set(key, value string) error {
	return r.coll.Save(&models.Setting{Key: key, Value: value, UpdatedAt: r.now().UTC()})
}

// All returns every setting ordered by key.
func (r *SettingsRepository) All() ([]*models.Setting, error) {
	return r.coll.All().Order("id", true).List()
}

// LastSync returns the server time of the last successful sync, or nil
// before the first one.
func (r *SettingsRepository) LastSync() (*time.Time, error) {
	v, found, err := r.Get(SettingLastSync)
	if err != nil || !found || v == "" {
		return nil, err
	}

	t, err := remote.ParseHTTPDate(v)
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", SettingLastSync, err)
	}

	return &t, nil
}

// SetLastSync stores the server time of the last successful sync.
func (r *SettingsRepository) SetLastSync(t time.Time) error {
	return r.Set(SettingLastSync, remote.FormatHTTPDate(t))
}

// TimeSkew returns the last measured difference between server and
// local clock.
func (r *SettingsRepository) TimeSkew() (time.Duration, error) {
	return r.millis(SettingTimeSkew, 0)
}

// SetTimeSkew stores the measured clock skew.
func (r *SettingsRepository) SetTimeSkew(d time.Duration) error {
	return r.Set(SettingTimeSkew, strconv.FormatInt(d.Milliseconds(), 10))
}

// SyncInterval returns the auto-sync period.
func (r *SettingsRepository) SyncInterval() (time.Duration, error) {
	d, err := r.millis(SettingSyncInterval, DefaultSyncInterval)
	if err != nil || d <= 0 {
		return DefaultSyncInterval, err
	}

	return d, nil
}

// SetSyncInterval stores the auto-sync period.
func (r *SettingsRepository) SetSyncInterval(d time.Duration) error {
	return r.Set(SettingSyncInterval, strconv.FormatInt(d.Milliseconds(), 10))
}

// OfflineMode reports whether automatic syncing is switched off.
func (r *SettingsRepository) OfflineMode() (bool, error) {
	v, found, err := r.Get(SettingOfflineMode)
	if err != nil || !found || v == "" {
		return false, err
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("setting %s: %w", SettingOfflineMode, err)
	}

	return b, nil
}

// SetOfflineMode switches automatic syncing off or on.
func (r *SettingsRepository) SetOfflineMode(on bool) error {
	return r.Set(SettingOfflineMode, strconv.FormatBool(on))
}

// LastUserID returns the local id of the user that signed in last.
func (r *SettingsRepository) LastUserID() (string, error) {
	v, _, err := r.Get(SettingLastUserID)
	return v, err
}

// SetLastUserID stores the local id of the user that signed in.
func (r *SettingsRepository) SetLastUserID(id string) error {
	return r.Set(SettingLastUserID, id)
}

// Locale returns the locale the default location is named for.
func (r *SettingsRepository) Locale() (string, error) {
	v, _, err := r.Get(SettingLocaleID)
	return v, err
}

func (r *SettingsRepository) millis(key string, def time.Duration) (time.Duration, error) {
	v, found, err := r.Get(key)
	if err != nil || !found || v == "" {
		return def, err
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}

	return time.Duration(ms) * time.Millisecond, nil
}
