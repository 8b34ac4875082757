// Package oracle talks to the face and emotion models, which run out of
// process behind a small length-prefixed msgpack protocol.
package oracle

import "errors"

// Emotion channels in the order ScoreEmotions reports them.
const (
	Neutral = iota
	Happy
	Sad
	Surprise
	Anger

	numEmotions
)

// SmileIndex is the emotion channel read as the smile score.
const SmileIndex = Happy

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("oracle closed")

// Oracle is the face and emotion inference capability. Implementations may be
// shared across concurrent runs.
type Oracle interface {
	// DetectFaces returns the faces found in an encoded image.
	DetectFaces(frame []byte) ([]Detection, error)
	// ScoreEmotions returns one probability per emotion channel for an encoded
	// face crop.
	ScoreEmotions(face []byte) ([]float64, error)
}

// Detection is one face with its box normalised to [0,1] of the frame.
type Detection struct {
	Confidence float64 `msgpack:"confidence"`
	XMin       float64 `msgpack:"xmin"`
	YMin       float64 `msgpack:"ymin"`
	XMax       float64 `msgpack:"xmax"`
	YMax       float64 `msgpack:"ymax"`
}

// Info is what the model server reports about itself on ping.
type Info struct {
	Version       string   `msgpack:"version"`
	Device        string   `msgpack:"device"`
	FaceModel     string   `msgpack:"face_model"`
	EmotionModel  string   `msgpack:"emotion_model"`
	EmotionLabels []string `msgpack:"emotion_labels"`
}

// SmileScore reads the smile channel, or 0 when the vector is too short.
func SmileScore(scores []float64) float64 {
	if len(scores) <= SmileIndex {
		return 0
	}
	return scores[SmileIndex]
}

type request struct {
	Op    string `msgpack:"op"`
	Image []byte `msgpack:"image,omitempty"`
}

type response struct {
	OK     bool        `msgpack:"ok"`
	Error  string      `msgpack:"error,omitempty"`
	Faces  []Detection `msgpack:"faces,omitempty"`
	Scores []float64   `msgpack:"scores,omitempty"`
	Info   *Info       `msgpack:"info,omitempty"`
}

const (
	opPing    = "ping"
	opDetect  = "detect"
	opEmotion = "emotion"
)
