package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// User is the seed form of a user row.
type User struct {
	ID          string
	DisplayName string
	Settings    simplemedia.ProtectionSettings

	ProfileImageKey string
	ProfileMetadata *simplemedia.ProcessingMetadata
	ProfileUpdated  *time.Time
}

// Submission is the seed form of a submission row.
type Submission struct {
	ID      string
	OwnerID string

	ImageKey      string
	ImageMetadata *simplemedia.ProcessingMetadata
	ImageUpdated  *time.Time
}

// Store implements simplemedia.RecordStore using in-memory maps
type Store struct {
	mu          sync.RWMutex
	users       map[string]*User
	submissions map[string]*Submission
}

// New creates an empty in-memory record store
func New() *Store {
	return &Store{
		users:       make(map[string]*User),
		submissions: make(map[string]*Submission),
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ProfileMetadata = copyMetadata(u.ProfileMetadata)
	s.users[u.ID] = &u
}

// PutSubmission inserts or replaces a submission.
func (s *Store) PutSubmission(sub Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ImageMetadata = copyMetadata(sub.ImageMetadata)
	s.submissions[sub.ID] = &sub
}

func (s *Store) GetMediaAsset(ctx context.Context, ref simplemedia.AssetRef) (*simplemedia.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch ref.Role {
	case simplemedia.RoleProfile:
		u, ok := s.users[ref.OwnerID]
		if !ok {
			return nil, simplemedia.ErrAssetNotFound
		}
		return &simplemedia.MediaAsset{
			Ref:                ref,
			StorageKey:         u.ProfileImageKey,
			ProcessingMetadata: copyMetadata(u.ProfileMetadata),
			ProcessedAt:        copyTime(u.ProfileUpdated),
		}, nil
	case simplemedia.RoleSubmission:
		sub, ok := s.submissions[ref.SubmissionID]
		if !ok || sub.OwnerID != ref.OwnerID {
			return nil, simplemedia.ErrAssetNotFound
		}
		return &simplemedia.MediaAsset{
			Ref:                ref,
			StorageKey:         sub.ImageKey,
			ProcessingMetadata: copyMetadata(sub.ImageMetadata),
			ProcessedAt:        copyTime(sub.ImageUpdated),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", simplemedia.ErrRoleNotProcessable, ref.Role)
}

func (s *Store) UpdateMediaAsset(ctx context.Context, ref simplemedia.AssetRef, update simplemedia.AssetUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ref.Role {
	case simplemedia.RoleProfile:
		u, ok := s.users[ref.OwnerID]
		if !ok {
			return simplemedia.ErrAssetNotFound
		}
		if u.ProfileImageKey != update.ExpectedKey {
			return fmt.Errorf("%w: holds %q, expected %q", simplemedia.ErrRecordChanged, u.ProfileImageKey, update.ExpectedKey)
		}
		u.ProfileImageKey = update.StorageKey
		u.ProfileMetadata = copyMetadata(update.ProcessingMetadata)
		u.ProfileUpdated = copyTime(update.ProcessedAt)
		return nil
	case simplemedia.RoleSubmission:
		sub, ok := s.submissions[ref.SubmissionID]
		if !ok || sub.OwnerID != ref.OwnerID {
			return simplemedia.ErrAssetNotFound
		}
		if sub.ImageKey != update.ExpectedKey {
			return fmt.Errorf("%w: holds %q, expected %q", simplemedia.ErrRecordChanged, sub.ImageKey, update.ExpectedKey)
		}
		sub.ImageKey = update.StorageKey
		sub.ImageMetadata = copyMetadata(update.ProcessingMetadata)
		sub.ImageUpdated = copyTime(update.ProcessedAt)
		return nil
	}
	return fmt.Errorf("%w: %s", simplemedia.ErrRoleNotProcessable, ref.Role)
}

func (s *Store) GetProtectionSettings(ctx context.Context, ownerID string) (*simplemedia.ProtectionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[ownerID]
	if !ok {
		return nil, simplemedia.ErrUserNotFound
	}
	settings := u.Settings
	return &settings, nil
}

func (s *Store) GetOwnerDisplayName(ctx context.Context, ownerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[ownerID]
	if !ok {
		return "", simplemedia.ErrUserNotFound
	}
	return u.DisplayName, nil
}

func (s *Store) GetSubmissionOwner(ctx context.Context, submissionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return "", simplemedia.ErrSubmissionNotFound
	}
	return sub.OwnerID, nil
}

func (s *Store) ListSubmissionIDs(ctx context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sub := range s.submissions {
		if sub.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyMetadata(m *simplemedia.ProcessingMetadata) *simplemedia.ProcessingMetadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
