// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arborlink/internal/database"
	"github.com/tomtom215/arborlink/internal/lineage"
	"github.com/tomtom215/arborlink/internal/models"
)

// fakeStore is an in-memory Store for pipeline tests. It keeps just enough
// state to assert the pipeline's side effects; transactional invariants are
// covered by the database package's own tests.
type fakeStore struct {
	mu sync.Mutex

	session    *models.Session
	openCalls  int
	roster     map[uuid.UUID]bool
	touched    []time.Time
	nextWake   *time.Time
	wakes      map[uuid.UUID]*models.WakeEvent
	receipts   map[uuid.UUID]time.Time
	images     map[string]*models.Image
	obs        map[uuid.UUID]*models.Observation
	failed     map[string]string
	resendable []string

	resendableLimit int
	completeErr     error
	retryCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		session:  &models.Session{ID: uuid.New()},
		roster:   map[uuid.UUID]bool{},
		wakes:    map[uuid.UUID]*models.WakeEvent{},
		receipts: map[uuid.UUID]time.Time{},
		images:   map[string]*models.Image{},
		obs:      map[uuid.UUID]*models.Observation{},
		failed:   map[string]string{},
	}
}

func (s *fakeStore) OpenSession(_ context.Context, _ uuid.UUID, _ string) (*database.OpenSessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCalls++
	return &database.OpenSessionResult{Session: s.session}, nil
}

func (s *fakeStore) EnsureSessionDevice(_ context.Context, _ uuid.UUID, deviceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster[deviceID] = true
	return nil
}

func (s *fakeStore) TouchDeviceContact(_ context.Context, _ uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, at)
	return nil
}

func (s *fakeStore) SetDeviceNextWake(_ context.Context, _ uuid.UUID, nextWake time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWake = &nextWake
	return nil
}

func (s *fakeStore) IngestWake(_ context.Context, p database.IngestWakeParams) (*models.WakeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := &models.WakeEvent{
		ID:         uuid.New(),
		DeviceID:   p.Device.ID,
		DeviceMAC:  p.Device.MAC,
		SessionID:  p.SessionID,
		CapturedAt: p.CapturedAt,
		ReceivedAt: p.ReceivedAt,
		WakeIndex:  p.WakeIndex,
		Overage:    p.Overage,
		Telemetry:  p.Telemetry,
		Status:     models.WakePending,
	}
	s.wakes[event.ID] = event
	return event, nil
}

func (s *fakeStore) UpdateWakeReceipt(_ context.Context, wakeEventID uuid.UUID, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[wakeEventID] = receivedAt
	return nil
}

func (s *fakeStore) GetImage(_ context.Context, _ uuid.UUID, stableName string) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[stableName]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (s *fakeStore) CreateImage(_ context.Context, img *models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *img
	cp.CreatedAt = time.Now().UTC()
	s.images[img.StableName] = &cp
	return nil
}

func (s *fakeStore) MarkImageReceiving(_ context.Context, imageID uuid.UUID, receivedChunks int, bitmap []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.ID == imageID {
			img.Status = models.ImageReceiving
			img.ReceivedChunks = receivedChunks
			img.ReceivedBitmap = bitmap
			return nil
		}
	}
	return database.ErrNotFound
}

func (s *fakeStore) CompleteImage(_ context.Context, imageID uuid.UUID, blobURL string, _ int64) (*models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	for _, img := range s.images {
		if img.ID != imageID {
			continue
		}
		if img.Status.IsTerminal() {
			return nil, database.ErrImageClaimed
		}
		img.Status = models.ImageComplete
		img.BlobURL = &blobURL
		o := &models.Observation{ID: uuid.New(), ImageID: imageID}
		s.obs[imageID] = o
		return o, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) FailImage(_ context.Context, imageID uuid.UUID, reason string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.ID != imageID {
			continue
		}
		if img.Status.IsTerminal() {
			return nil, database.ErrImageClaimed
		}
		img.Status = models.ImageFailed
		img.FailReason = &reason
		s.failed[img.StableName] = reason
		return &models.Alert{ID: uuid.New(), Kind: models.AlertImageFailed, Message: reason}, nil
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) RetryByID(_ context.Context, _ uuid.UUID, stableName, blobURL string, _ int64) (*database.RetryByIDResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCalls++
	img, ok := s.images[stableName]
	if !ok {
		return nil, database.ErrNotFound
	}
	wake := s.wakes[img.WakeEventID]
	sessionID := s.session.ID
	if wake != nil {
		sessionID = wake.SessionID
	}
	if img.Status == models.ImageComplete && img.RetryCount == 0 && s.obs[img.ID] != nil {
		return &database.RetryByIDResult{
			Observation:       s.obs[img.ID],
			OriginalSessionID: sessionID,
			AlreadyComplete:   true,
		}, nil
	}
	img.Status = models.ImageComplete
	img.BlobURL = &blobURL
	img.RetryCount++
	o := s.obs[img.ID]
	if o == nil {
		o = &models.Observation{ID: uuid.New(), ImageID: img.ID}
		s.obs[img.ID] = o
	}
	return &database.RetryByIDResult{Observation: o, OriginalSessionID: sessionID}, nil
}

func (s *fakeStore) ResendableImages(_ context.Context, _ uuid.UUID, _ time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resendableLimit = limit
	if limit > len(s.resendable) {
		limit = len(s.resendable)
	}
	return s.resendable[:limit], nil
}

func (s *fakeStore) image(name string) *models.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[name]
	if !ok {
		return nil
	}
	cp := *img
	return &cp
}

// fakeResolver hands back one fixed resolution, or the not-assigned error.
type fakeResolver struct {
	res *lineage.Resolution
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) (*lineage.Resolution, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.res, nil
}

// fakeCommander records outbound device messages.
type fakeCommander struct {
	mu sync.Mutex

	missingRequests map[string][]int
	missingCalls    int
	acks            map[string]time.Time
	imageRequests   []string

	err error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		missingRequests: map[string][]int{},
		acks:            map[string]time.Time{},
	}
}

func (c *fakeCommander) RequestMissingChunks(_ context.Context, _ string, imageName string, missing []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.missingRequests[imageName] = append([]int(nil), missing...)
	c.missingCalls++
	return nil
}

func (c *fakeCommander) AcknowledgeTransfer(_ context.Context, _ string, imageName string, nextWake time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.acks[imageName] = nextWake
	return nil
}

func (c *fakeCommander) RequestImage(_ context.Context, _ string, imageName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.imageRequests = append(c.imageRequests, imageName)
	return nil
}

// fakeUploader records uploads keyed by object path.
type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}}
}

func (u *fakeUploader) Upload(_ context.Context, key string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.objects[key] = append([]byte(nil), data...)
	return fmt.Sprintf("minio://test/%s", key), nil
}
