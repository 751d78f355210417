package eventbus

// Event types published by recsched.
const (
	RecordingScheduled = "recording.scheduled"
	RecordingCanceled  = "recording.canceled"
	RecordingFired     = "recording.fired"

	CatalogReloaded     = "catalog.reloaded"
	CatalogReloadFailed = "catalog.reload_failed"

	ConfigReloaded = "config.reloaded"
)

// RecordingData is the Data of recording.* events.
type RecordingData struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Channel string `json:"channel,omitempty"`
	FireAt  string `json:"fire_at,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// CatalogData is the Data of catalog.* events.
type CatalogData struct {
	Source   string `json:"source"`
	Channels int    `json:"channels,omitempty"`
	Error    string `json:"error,omitempty"`
}
