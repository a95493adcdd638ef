// Package testsupport provides shared fakes for exercising the
// orchestrator without the external media provider or SFU.
package testsupport

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"bspnode/internal/media"
	"bspnode/internal/rooms"
)

// FakeMediaClient is an in-memory media.Client. Uploads and assets are
// seeded or created on the fly; egress jobs start and stop unconditionally
// unless an error is injected.
type FakeMediaClient struct {
	mu sync.Mutex

	Uploads map[string]media.UploadStatus
	Assets  map[string]media.Asset
	Egress  []media.EgressState

	CreateUploadErr error
	TransferErr     error
	StartEgressErr  error
	StopEgressErr   error

	uploadSeq   int
	egressSeq   int
	StartCalls  int
	StopCalls   int
	UploadCalls int
}

func NewFakeMediaClient() *FakeMediaClient {
	return &FakeMediaClient{
		Uploads: make(map[string]media.UploadStatus),
		Assets:  make(map[string]media.Asset),
	}
}

func (f *FakeMediaClient) CreateDirectUpload(ctx context.Context, passthrough string) (media.DirectUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateUploadErr != nil {
		return media.DirectUpload{}, f.CreateUploadErr
	}
	f.uploadSeq++
	id := "upload-" + strconv.Itoa(f.uploadSeq)
	f.Uploads[id] = media.UploadStatus{ID: id, Status: "waiting"}
	return media.DirectUpload{ID: id, URL: "https://uploads.test/" + id, Status: "waiting", Passthrough: passthrough}, nil
}

func (f *FakeMediaClient) UploadFile(ctx context.Context, url string, body io.Reader, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UploadCalls++
	return f.TransferErr
}

func (f *FakeMediaClient) GetUpload(ctx context.Context, uploadID string) (media.UploadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.Uploads[uploadID]
	if !ok {
		return media.UploadStatus{}, errors.New("unknown upload " + uploadID)
	}
	return status, nil
}

func (f *FakeMediaClient) GetAsset(ctx context.Context, assetID string) (media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.Assets[assetID]
	if !ok {
		return media.Asset{}, errors.New("unknown asset " + assetID)
	}
	return asset, nil
}

func (f *FakeMediaClient) StartEgress(ctx context.Context, req media.EgressRequest) (media.EgressState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls++
	if f.StartEgressErr != nil {
		return media.EgressState{}, f.StartEgressErr
	}
	f.egressSeq++
	state := media.EgressState{
		EgressID: "eg-" + strconv.Itoa(f.egressSeq),
		RoomName: req.RoomName,
		Status:   "EGRESS_STARTING",
	}
	f.Egress = append(f.Egress, state)
	return state, nil
}

func (f *FakeMediaClient) StopEgress(ctx context.Context, egressID string) (media.EgressState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls++
	if f.StopEgressErr != nil {
		return media.EgressState{}, f.StopEgressErr
	}
	for i, state := range f.Egress {
		if state.EgressID == egressID {
			f.Egress[i].Status = "EGRESS_COMPLETE"
			return media.EgressState{EgressID: egressID, Status: "EGRESS_ENDING"}, nil
		}
	}
	return media.EgressState{EgressID: egressID, Status: "EGRESS_ENDING"}, nil
}

func (f *FakeMediaClient) ListEgress(ctx context.Context, roomName string) ([]media.EgressState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]media.EgressState, 0, len(f.Egress))
	for _, state := range f.Egress {
		if roomName == "" || state.RoomName == roomName {
			out = append(out, state)
		}
	}
	return out, nil
}

// SetUpload seeds or replaces an upload status.
func (f *FakeMediaClient) SetUpload(status media.UploadStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads[status.ID] = status
}

// SetAsset seeds or replaces an asset.
func (f *FakeMediaClient) SetAsset(asset media.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Assets[asset.ID] = asset
}

var _ media.Client = (*FakeMediaClient)(nil)

// FakeRoomService is an in-memory rooms.Service signing real tokens with a
// fixed dev keypair.
type FakeRoomService struct {
	mu      sync.Mutex
	Rooms   map[string]rooms.Room
	Created []string
	keys    rooms.Keypair
}

func NewFakeRoomService() *FakeRoomService {
	keys, err := rooms.NewKeypair("devkey", "devsecret")
	if err != nil {
		panic(err)
	}
	return &FakeRoomService{Rooms: make(map[string]rooms.Room), keys: keys}
}

func (f *FakeRoomService) CreateRoom(ctx context.Context, name string, maxParticipants int) (rooms.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := rooms.Room{Name: name, MaxParticipants: maxParticipants}
	f.Rooms[name] = room
	f.Created = append(f.Created, name)
	return room, nil
}

func (f *FakeRoomService) ListRooms(ctx context.Context, names []string) ([]rooms.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rooms.Room
	for _, name := range names {
		if room, ok := f.Rooms[name]; ok {
			out = append(out, room)
		}
	}
	return out, nil
}

func (f *FakeRoomService) IssueToken(ctx context.Context, room, identity string, grants rooms.TokenGrants) (string, error) {
	return f.keys.Mint(room, identity, grants, time.Now())
}

var _ rooms.Service = (*FakeRoomService)(nil)
