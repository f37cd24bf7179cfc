package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/backend/internal/models"
)

type memEvents struct {
	mu     sync.Mutex
	events map[uuid.UUID]models.Event
}

func (m *memEvents) Create(_ context.Context, e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	m.events[e.ID] = *e
	return nil
}

func (m *memEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *memEvents) List(context.Context, Filter) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Event{}
	for _, e := range m.events {
		out = append(out, e)
	}
	return out, nil
}

func (m *memEvents) Update(_ context.Context, id uuid.UUID, u Update) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.IsMandatory != nil {
		e.IsMandatory = *u.IsMandatory
	}
	m.events[id] = e
	return &e, nil
}

func (m *memEvents) UpdateStatus(_ context.Context, id uuid.UUID, status models.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	m.events[id] = e
	return nil
}

type recordingChanges struct {
	got []models.Event
}

func (r *recordingChanges) EventChanged(_ context.Context, ev *models.Event) {
	r.got = append(r.got, *ev)
}

func sendJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminEditsNotifyEveryListener(t *testing.T) {
	gin.SetMode(gin.TestMode)
	realtime, refresh := &recordingChanges{}, &recordingChanges{}
	h := NewHandler(&memEvents{events: map[uuid.UUID]models.Event{}}, realtime, nil)
	h.AddNotifier(refresh)
	h.AddNotifier(nil)

	r := gin.New()
	r.POST("/events", h.Create)
	r.PATCH("/events/:id", h.Update)
	r.PATCH("/events/:id/status", h.UpdateStatus)

	req := validCreate()
	w := sendJSON(r, http.MethodPost, "/events", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Data.ID.String()

	w = sendJSON(r, http.MethodPatch, "/events/"+id, gin.H{"is_mandatory": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = sendJSON(r, http.MethodPatch, "/events/"+id+"/status", StatusRequest{Status: string(models.EventStatusClosed)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, rec := range []*recordingChanges{realtime, refresh} {
		require.Len(t, rec.got, 3)
		assert.Equal(t, "Intro to Rust", rec.got[0].Title)
		assert.True(t, rec.got[1].IsMandatory)
		assert.Equal(t, models.EventStatusClosed, rec.got[2].Status)
	}

	t.Run("rejected edit notifies nobody", func(t *testing.T) {
		w := sendJSON(r, http.MethodPatch, "/events/"+id, gin.H{"title": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, refresh.got, 3)
	})
}
