package media

// DirectUpload is an authenticated one-shot upload slot on the media
// provider. The URL accepts a single PUT of the recording file.
type DirectUpload struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	AssetID     string `json:"asset_id,omitempty"`
	Passthrough string `json:"passthrough,omitempty"`
}

// UploadStatus is a point-in-time view of an upload and, once the provider
// has created it, the asset behind it.
type UploadStatus struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	AssetID string `json:"asset_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PlaybackID names one playback handle on an asset.
type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// Asset is the provider's processed recording object.
type Asset struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Duration    float64      `json:"duration,omitempty"`
	PlaybackIDs []PlaybackID `json:"playback_ids,omitempty"`
	Passthrough string       `json:"passthrough,omitempty"`
	ErrorReason string       `json:"error_reason,omitempty"`
}

// FirstPlaybackID returns the first playback handle, or empty when the
// asset has none yet.
func (a Asset) FirstPlaybackID() string {
	if len(a.PlaybackIDs) == 0 {
		return ""
	}
	return a.PlaybackIDs[0].ID
}

// PlaybackURL builds the HLS playback URL for a playback handle.
func PlaybackURL(playbackID string) string {
	if playbackID == "" {
		return ""
	}
	return "https://stream.mux.com/" + playbackID + ".m3u8"
}

// EgressRequest asks the media provider to pull a room composite and push
// it to an RTMP endpoint.
type EgressRequest struct {
	RoomName  string `json:"room_name"`
	Layout    string `json:"layout,omitempty"`
	StreamURL string `json:"stream_url"`
	StreamKey string `json:"stream_key"`
}

// EgressState reports one egress job as the provider sees it. Status is
// the provider's raw string and is mapped by the egress package.
type EgressState struct {
	EgressID  string `json:"egress_id"`
	RoomName  string `json:"room_name,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
	EndedAt   int64  `json:"ended_at,omitempty"`
}
