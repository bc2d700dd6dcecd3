// internal/database/boltstore_extended.go - Retention, statistics and compaction for BoltStore
package database

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "time"

    "github.com/sirupsen/logrus"
    "go.etcd.io/bbolt"
)

var _ ExtendedStore = (*BoltStore)(nil)

// DeleteAlertsBefore removes resolved alerts created before cutoffTime
func (s *BoltStore) DeleteAlertsBefore(ctx context.Context, cutoffTime time.Time) (int, error) {
    deletedCount := 0

    err := s.db.Update(func(tx *bbolt.Tx) error {
        n, err := deleteAlertsWhere(tx, func(a *Alert) bool {
            return a.Status == AlertResolved && a.CreatedAt.Before(cutoffTime)
        })
        deletedCount = n
        return err
    })

    if err != nil {
        return 0, fmt.Errorf("failed to delete old alerts: %w", err)
    }

    logrus.WithFields(logrus.Fields{
        "deleted_count": deletedCount,
        "cutoff_time":   cutoffTime,
    }).Debug("Deleted resolved alerts past retention")

    return deletedCount, nil
}

// DeleteAlertsForDevice removes every alert owned by deviceID
func (s *BoltStore) DeleteAlertsForDevice(ctx context.Context, deviceID string) (int, error) {
    deletedCount := 0

    err := s.db.Update(func(tx *bbolt.Tx) error {
        n, err := deleteAlertsWhere(tx, func(a *Alert) bool { return a.DeviceID == deviceID })
        deletedCount = n
        return err
    })

    if err != nil {
        return 0, fmt.Errorf("failed to delete alerts for device %s: %w", deviceID, err)
    }
    return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
    stats := &DatabaseStats{}

    err := s.db.View(func(tx *bbolt.Tx) error {
        stats.TotalDevices = tx.Bucket(DevicesBucket).Stats().KeyN
        stats.TotalSettings = tx.Bucket(SettingsBucket).Stats().KeyN

        return tx.Bucket(AlertsBucket).ForEach(func(k, v []byte) error {
            var alert Alert
            if err := json.Unmarshal(v, &alert); err != nil {
                return nil
            }
            stats.TotalAlerts++
            if alert.Status == AlertActive {
                stats.ActiveAlerts++
            }
            if stats.OldestAlert.IsZero() || alert.CreatedAt.Before(stats.OldestAlert) {
                stats.OldestAlert = alert.CreatedAt
            }
            if alert.CreatedAt.After(stats.NewestAlert) {
                stats.NewestAlert = alert.CreatedAt
            }
            return nil
        })
    })

    if err != nil {
        return nil, fmt.Errorf("failed to get database stats: %w", err)
    }

    if fileInfo, err := os.Stat(s.path); err == nil {
        stats.DatabaseSize = fileInfo.Size()
    }

    return stats, nil
}

// CompactDatabase copies every bucket into a fresh file and swaps it in.
func (s *BoltStore) CompactDatabase(ctx context.Context) error {
    logrus.Info("Starting database compaction")

    compactPath := s.path + ".compact.tmp"

    newDB, err := bbolt.Open(compactPath, 0600, &bbolt.Options{
        Timeout: 1 * time.Second,
    })
    if err != nil {
        return fmt.Errorf("failed to create compact database: %w", err)
    }

    defer func() {
        newDB.Close()
        os.Remove(compactPath)
    }()

    err = s.db.View(func(oldTx *bbolt.Tx) error {
        return newDB.Update(func(newTx *bbolt.Tx) error {
            for _, bucketName := range allBuckets {
                newBucket, err := newTx.CreateBucketIfNotExists(bucketName)
                if err != nil {
                    return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
                }

                oldBucket := oldTx.Bucket(bucketName)
                if oldBucket == nil {
                    continue
                }

                cursor := oldBucket.Cursor()
                for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
                    if err := newBucket.Put(copyBytes(k), copyBytes(v)); err != nil {
                        return fmt.Errorf("failed to copy data: %w", err)
                    }
                }
            }
            return nil
        })
    })

    if err != nil {
        return fmt.Errorf("failed to copy data to compact database: %w", err)
    }

    newDB.Close()
    s.db.Close()

    if err := os.Rename(compactPath, s.path); err != nil {
        return fmt.Errorf("failed to replace database: %w", err)
    }

    s.db, err = bbolt.Open(s.path, 0600, &bbolt.Options{
        Timeout: 1 * time.Second,
    })
    if err != nil {
        return fmt.Errorf("failed to reopen compacted database: %w", err)
    }

    logrus.Info("Database compaction completed successfully")
    return nil
}

// deleteAlertsWhere must run inside an Update transaction.
func deleteAlertsWhere(tx *bbolt.Tx, match func(*Alert) bool) (int, error) {
    b := tx.Bucket(AlertsBucket)

    var keysToDelete [][]byte
    cursor := b.Cursor()
    for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
        var alert Alert
        if err := json.Unmarshal(v, &alert); err != nil {
            continue
        }
        if match(&alert) {
            keysToDelete = append(keysToDelete, copyBytes(k))
        }
    }

    for _, key := range keysToDelete {
        if err := b.Delete(key); err != nil {
            return 0, fmt.Errorf("failed to delete alert %s: %w", key, err)
        }
    }

    return len(keysToDelete), nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
    if b == nil {
        return nil
    }
    copied := make([]byte, len(b))
    copy(copied, b)
    return copied
}
