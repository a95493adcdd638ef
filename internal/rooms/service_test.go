package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPServiceCreateRoom(t *testing.T) {
	var authHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/twirp/livekit.RoomService/CreateRoom" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		authHeader.Store(r.Header.Get("Authorization"))
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Room{Name: req.Name, SID: "RM_1", MaxParticipants: req.MaxParticipants})
	}))
	defer server.Close()

	svc, err := NewHTTPService(Config{
		BaseURL:   server.URL,
		APIKey:    "devkey",
		APISecret: "devsecret",
	})
	if err != nil {
		t.Fatalf("NewHTTPService returned error: %v", err)
	}
	room, err := svc.CreateRoom(context.Background(), "stream-abc", 4)
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if room.SID != "RM_1" || room.Name != "stream-abc" {
		t.Fatalf("unexpected room: %+v", room)
	}
	if header, _ := authHeader.Load().(string); !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("expected bearer auth, got %q", header)
	}
}

func TestHTTPServiceRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(listRoomsResponse{Rooms: []Room{{Name: "stream-abc"}}})
	}))
	defer server.Close()

	svc, err := NewHTTPService(Config{
		BaseURL:       server.URL,
		APIKey:        "devkey",
		APISecret:     "devsecret",
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPService returned error: %v", err)
	}
	rooms, err := svc.ListRooms(context.Background(), []string{"stream-abc"})
	if err != nil {
		t.Fatalf("ListRooms returned error: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "stream-abc" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestHTTPServiceGivesUpAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	svc, err := NewHTTPService(Config{
		BaseURL:       server.URL,
		APIKey:        "devkey",
		APISecret:     "devsecret",
		MaxAttempts:   2,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPService returned error: %v", err)
	}
	if _, err := svc.CreateRoom(context.Background(), "stream-abc", 0); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}
