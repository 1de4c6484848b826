package locker

import (
	"errors"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Lease is one granted lock. A resource has at most one live lease; an
// expired lease is dead weight until the next request for the resource
// evicts it.
type Lease struct {
	gorm.Model
	Resource  string `gorm:"uniqueIndex"`
	OwnerID   string
	ExpiresAt time.Time
}

// StoredValue is the auxiliary value channel attached to a resource
// name via Put/Get/Erase.
type StoredValue struct {
	gorm.Model
	Resource  string `gorm:"uniqueIndex"`
	Payload   string
	ExpiresAt time.Time
}

// Store is the lock server's durable state. Grant decisions are
// serialized by an in-process mutex; sqlite only has to survive
// restarts, not concurrent writers.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// OpenStore opens (and migrates) the lock-server database at path.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Lease{}, &StoredValue{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Acquire attempts to take the named lock for ownerID. A request from
// the current owner renews the lease rather than failing: requests
// sharing an ID and resource come from the same holder context.
func (s *Store) Acquire(resource, ownerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var lease Lease
	err := s.db.Where("resource = ?", resource).First(&lease).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		lease = Lease{Resource: resource, OwnerID: ownerID, ExpiresAt: now.Add(ttl)}
		return true, s.db.Create(&lease).Error
	case err != nil:
		return false, err
	}

	if lease.OwnerID != ownerID && lease.ExpiresAt.After(now) {
		return false, nil
	}
	lease.OwnerID = ownerID
	lease.ExpiresAt = now.Add(ttl)
	return true, s.db.Save(&lease).Error
}

// Release drops the lease if ownerID holds it.
func (s *Store) Release(resource, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Unscoped().Where("resource = ? AND owner_id = ?", resource, ownerID).Delete(&Lease{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetValue returns the live payload for the resource, if any.
func (s *Store) GetValue(resource string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v StoredValue
	err := s.db.Where("resource = ?", resource).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !v.ExpiresAt.IsZero() && v.ExpiresAt.Before(time.Now()) {
		return "", false, nil
	}
	return v.Payload, true, nil
}

// PutValue stores or replaces the payload. A zero ttl stores without
// expiry.
func (s *Store) PutValue(resource, payload string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	var v StoredValue
	err := s.db.Where("resource = ?", resource).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		v = StoredValue{Resource: resource, Payload: payload, ExpiresAt: expires}
		return s.db.Create(&v).Error
	}
	if err != nil {
		return err
	}
	v.Payload = payload
	v.ExpiresAt = expires
	return s.db.Save(&v).Error
}

// EraseValue removes the payload for the resource.
func (s *Store) EraseValue(resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Unscoped().Where("resource = ?", resource).Delete(&StoredValue{}).Error
}
