package temporal

// MediaReceivedSignalName is sent by the bucket event handler for every media object that lands
// for a job whose report is waiting on media.
const MediaReceivedSignalName = "mediaReceived"

type MediaReceivedSignal struct {
	MediaID   string `json:"media_id"`
	ObjectKey string `json:"object_key,omitempty"`
}
