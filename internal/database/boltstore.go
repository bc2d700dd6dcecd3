// internal/database/boltstore.go - BoltDB implementation of the device/alert/setting store
package database

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"
    "go.etcd.io/bbolt"
)

var (
    DevicesBucket  = []byte("devices")
    AlertsBucket   = []byte("alerts")
    SettingsBucket = []byte("settings")
    MetaBucket     = []byte("meta")
)

var allBuckets = [][]byte{DevicesBucket, AlertsBucket, SettingsBucket, MetaBucket}

const operatorResolutionNote = "resolved by operator"

type BoltStore struct {
    db   *bbolt.DB
    path string
}

func NewBoltStore(path string) (*BoltStore, error) {
    // Create directory if it doesn't exist
    if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
        return nil, fmt.Errorf("failed to create data directory: %w", err)
    }

    db, err := bbolt.Open(path, 0600, &bbolt.Options{
        Timeout: 1 * time.Second,
    })
    if err != nil {
        return nil, fmt.Errorf("failed to open BoltDB: %w", err)
    }

    store := &BoltStore{db: db, path: path}

    if err := store.initBuckets(); err != nil {
        db.Close()
        return nil, fmt.Errorf("failed to initialize buckets: %w", err)
    }

    return store, nil
}

func (s *BoltStore) initBuckets() error {
    return s.db.Update(func(tx *bbolt.Tx) error {
        for _, bucket := range allBuckets {
            if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
                return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
            }
        }
        return nil
    })
}

func (s *BoltStore) ListDevices(ctx context.Context) ([]Device, error) {
    var devices []Device

    err := s.db.View(func(tx *bbolt.Tx) error {
        b := tx.Bucket(DevicesBucket)
        return b.ForEach(func(k, v []byte) error {
            var device Device
            if err := json.Unmarshal(v, &device); err != nil {
                return fmt.Errorf("failed to unmarshal device %s: %w", k, err)
            }
            devices = append(devices, device)
            return nil
        })
    })
    if err != nil {
        return nil, err
    }

    // Registration order
    sort.SliceStable(devices, func(i, j int) bool {
        return devices[i].CreatedAt.Before(devices[j].CreatedAt)
    })

    return devices, nil
}

func (s *BoltStore) GetDevice(ctx context.Context, id string) (*Device, error) {
    var device Device

    err := s.db.View(func(tx *bbolt.Tx) error {
        v := tx.Bucket(DevicesBucket).Get([]byte(id))
        if v == nil {
            return fmt.Errorf("device %s: %w", id, ErrNotFound)
        }
        return json.Unmarshal(v, &device)
    })

    if err != nil {
        return nil, err
    }
    return &device, nil
}

func (s *BoltStore) GetDeviceByAddress(ctx context.Context, address string) (*Device, error) {
    var found *Device

    err := s.db.View(func(tx *bbolt.Tx) error {
        c := tx.Bucket(DevicesBucket).Cursor()
        for k, v := c.First(); k != nil; k, v = c.Next() {
            var device Device
            if err := json.Unmarshal(v, &device); err != nil {
                continue
            }
            if device.Address == address {
                found = &device
                return nil
            }
        }
        return fmt.Errorf("device with address %s: %w", address, ErrNotFound)
    })

    if err != nil {
        return nil, err
    }
    return found, nil
}

func (s *BoltStore) CreateDevice(ctx context.Context, device *Device) error {
    if device.ID == "" {
        device.ID = uuid.New().String()
    }
    if device.Status == "" {
        device.Status = StatusUnknown
    }
    device.CreatedAt = time.Now()
    device.UpdatedAt = device.CreatedAt

    return s.db.Update(func(tx *bbolt.Tx) error {
        return putJSON(tx.Bucket(DevicesBucket), device.ID, device)
    })
}

func (s *BoltStore) SaveDevice(ctx context.Context, device *Device) error {
    device.UpdatedAt = time.Now()

    return s.db.Update(func(tx *bbolt.Tx) error {
        b := tx.Bucket(DevicesBucket)
        if b.Get([]byte(device.ID)) == nil {
            return fmt.Errorf("device %s: %w", device.ID, ErrNotFound)
        }
        return putJSON(b, device.ID, device)
    })
}

// DeleteDevice removes the device and every alert that belongs to it.
func (s *BoltStore) DeleteDevice(ctx context.Context, id string) error {
    return s.db.Update(func(tx *bbolt.Tx) error {
        b := tx.Bucket(DevicesBucket)
        if b.Get([]byte(id)) == nil {
            return fmt.Errorf("device %s: %w", id, ErrNotFound)
        }
        if err := b.Delete([]byte(id)); err != nil {
            return err
        }
        _, err := deleteAlertsWhere(tx, func(a *Alert) bool { return a.DeviceID == id })
        return err
    })
}

func (s *BoltStore) CommitDeviceUpdate(ctx context.Context, commit *DeviceCommit) error {
    device := commit.Device
    var (
        merged  Device
        applied []Alert
    )

    err := s.db.Update(func(tx *bbolt.Tx) error {
        applied = nil

        devices := tx.Bucket(DevicesBucket)
        raw := devices.Get([]byte(device.ID))
        if raw == nil {
            return fmt.Errorf("device %s: %w", device.ID, ErrNotFound)
        }
        if err := json.Unmarshal(raw, &merged); err != nil {
            return fmt.Errorf("failed to unmarshal device %s: %w", device.ID, err)
        }

        merged.Status = device.Status
        merged.PacketLoss = device.PacketLoss
        merged.Jitter = device.Jitter
        merged.Uptime = device.Uptime
        merged.LastChecked = device.LastChecked
        merged.UpdatedAt = time.Now()
        if err := putJSON(devices, merged.ID, &merged); err != nil {
            return err
        }

        alerts := tx.Bucket(AlertsBucket)
        for _, alert := range commit.Created {
            if alert.ID == "" {
                alert.ID = uuid.New().String()
            }
            if alert.CreatedAt.IsZero() {
                alert.CreatedAt = time.Now()
            }
            if alert.Status == "" {
                alert.Status = AlertActive
            }
            if err := putJSON(alerts, alert.ID, alert); err != nil {
                return err
            }
        }

        for i := range commit.Resolved {
            raw := alerts.Get([]byte(commit.Resolved[i].ID))
            if raw == nil {
                continue
            }
            var stored Alert
            if err := json.Unmarshal(raw, &stored); err != nil {
                return fmt.Errorf("failed to unmarshal alert %s: %w", commit.Resolved[i].ID, err)
            }
            // Acknowledged or resolved by an operator in the meantime
            if stored.Status != AlertActive {
                continue
            }
            if err := putJSON(alerts, commit.Resolved[i].ID, &commit.Resolved[i]); err != nil {
                return err
            }
            applied = append(applied, commit.Resolved[i])
        }
        return nil
    })
    if err != nil {
        return err
    }

    *device = merged
    commit.Resolved = applied
    return nil
}

func (s *BoltStore) ListSettings(ctx context.Context) (map[string]string, error) {
    settings, err := s.GetSettings(ctx)
    if err != nil {
        return nil, err
    }

    values := make(map[string]string, len(settings))
    for _, setting := range settings {
        values[setting.Key] = setting.Value
    }
    return values, nil
}

func (s *BoltStore) GetSettings(ctx context.Context) ([]Setting, error) {
    var settings []Setting

    err := s.db.View(func(tx *bbolt.Tx) error {
        return tx.Bucket(SettingsBucket).ForEach(func(k, v []byte) error {
            var setting Setting
            if err := json.Unmarshal(v, &setting); err != nil {
                return fmt.Errorf("failed to unmarshal setting %s: %w", k, err)
            }
            settings = append(settings, setting)
            return nil
        })
    })

    return settings, err
}

// UpsertSetting writes a setting. An empty description keeps the stored one.
func (s *BoltStore) UpsertSetting(ctx context.Context, key, value, description string) error {
    return s.db.Update(func(tx *bbolt.Tx) error {
        b := tx.Bucket(SettingsBucket)

        setting := Setting{Key: key, Value: value, Description: description, UpdatedAt: time.Now()}
        if existing := b.Get([]byte(key)); existing != nil && description == "" {
            var old Setting
            if err := json.Unmarshal(existing, &old); err == nil {
                setting.Description = old.Description
            }
        }

        return putJSON(b, key, &setting)
    })
}

func (s *BoltStore) CreateAlert(ctx context.Context, alert *Alert) error {
    if alert.ID == "" {
        alert.ID = uuid.New().String()
    }
    if alert.CreatedAt.IsZero() {
        alert.CreatedAt = time.Now()
    }
    if alert.Status == "" {
        alert.Status = AlertActive
    }

    return s.db.Update(func(tx *bbolt.Tx) error {
        return putJSON(tx.Bucket(AlertsBucket), alert.ID, alert)
    })
}

func (s *BoltStore) GetAlert(ctx context.Context, id string) (*Alert, error) {
    var alert Alert

    err := s.db.View(func(tx *bbolt.Tx) error {
        v := tx.Bucket(AlertsBucket).Get([]byte(id))
        if v == nil {
            return fmt.Errorf("alert %s: %w", id, ErrNotFound)
        }
        return json.Unmarshal(v, &alert)
    })

    if err != nil {
        return nil, err
    }
    return &alert, nil
}

// GetAlerts returns matching alerts, newest first.
func (s *BoltStore) GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error) {
    var alerts []Alert

    err := s.db.View(func(tx *bbolt.Tx) error {
        return tx.Bucket(AlertsBucket).ForEach(func(k, v []byte) error {
            var alert Alert
            if err := json.Unmarshal(v, &alert); err != nil {
                return nil // Skip malformed entries
            }
            if filters.Matches(&alert) {
                alerts = append(alerts, alert)
            }
            return nil
        })
    })
    if err != nil {
        return nil, err
    }

    sort.SliceStable(alerts, func(i, j int) bool {
        return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
    })

    return paginate(alerts, filters.Skip, filters.Limit), nil
}

func (s *BoltStore) UpdateAlertStatus(ctx context.Context, id, status string) (*Alert, error) {
    var alert Alert

    err := s.db.Update(func(tx *bbolt.Tx) error {
        b := tx.Bucket(AlertsBucket)
        v := b.Get([]byte(id))
        if v == nil {
            return fmt.Errorf("alert %s: %w", id, ErrNotFound)
        }
        if err := json.Unmarshal(v, &alert); err != nil {
            return fmt.Errorf("failed to unmarshal alert %s: %w", id, err)
        }

        if !ValidAlertTransition(alert.Status, status) {
            return fmt.Errorf("%s -> %s: %w", alert.Status, status, ErrInvalidTransition)
        }

        alert.Status = status
        if status == AlertResolved {
            now := time.Now()
            alert.ResolvedAt = &now
            alert.Duration = FormatDuration(now.Sub(alert.CreatedAt))
            alert.ResolutionNote = operatorResolutionNote
        }

        return putJSON(b, alert.ID, &alert)
    })

    if err != nil {
        return nil, err
    }
    return &alert, nil
}

func (s *BoltStore) CountAlertsBySeverity(ctx context.Context, status string) (map[string]int, error) {
    counts := map[string]int{
        SeverityCritical: 0,
        SeverityWarning:  0,
        SeverityInfo:     0,
    }

    alerts, err := s.GetAlerts(ctx, AlertFilters{Status: status})
    if err != nil {
        return nil, err
    }
    for _, alert := range alerts {
        counts[alert.Severity]++
    }
    return counts, nil
}

func (s *BoltStore) Close() error {
    return s.db.Close()
}

func putJSON(b *bbolt.Bucket, key string, value interface{}) error {
    data, err := json.Marshal(value)
    if err != nil {
        return fmt.Errorf("failed to marshal %s: %w", key, err)
    }
    return b.Put([]byte(key), data)
}

func paginate(alerts []Alert, skip, limit int) []Alert {
    if skip > 0 {
        if skip >= len(alerts) {
            return []Alert{}
        }
        alerts = alerts[skip:]
    }
    if limit > 0 && len(alerts) > limit {
        alerts = alerts[:limit]
    }
    return alerts
}
