package smile

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/nikoclip/nikoclip/internal/oracle"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultSmileThreshold      = 0.6

	cropJPEGQuality = 95
)

// Extractor runs the face and emotion passes over single frames.
type Extractor struct {
	oracle              oracle.Oracle
	confidenceThreshold float64
	smileThreshold      float64
	logger              *slog.Logger
}

func NewExtractor(o oracle.Oracle, confidenceThreshold, smileThreshold float64, logger *slog.Logger) *Extractor {
	return &Extractor{
		oracle:              o,
		confidenceThreshold: confidenceThreshold,
		smileThreshold:      smileThreshold,
		logger:              logger,
	}
}

// Extract returns one candidate per face in frame that smiles above the
// threshold, largest face first. Timestamps are index/fps, or 0 when fps is 0.
func (e *Extractor) Extract(frame []byte, index int, fps float64) ([]Candidate, error) {
	detections, err := e.oracle.DetectFaces(frame)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	if !e.anyConfident(detections) {
		return nil, nil
	}

	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	faces := e.keepFaces(detections, img.Bounds().Dx(), img.Bounds().Dy())

	timestamp := 0.0
	if fps > 0 {
		timestamp = float64(index) / fps
	}

	var candidates []Candidate
	for _, face := range faces {
		if face.Box.Empty() {
			continue
		}

		crop, err := encodeCrop(img, face.Box)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}

		scores, err := e.oracle.ScoreEmotions(crop)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}

		score := oracle.SmileScore(scores)
		if score <= e.smileThreshold {
			continue
		}

		e.logger.Debug("smile candidate",
			"frame", index,
			"timestamp", timestamp,
			"score", score,
			"area", face.Box.Area(),
		)
		candidates = append(candidates, Candidate{
			Score:     score,
			Timestamp: timestamp,
			Frame:     bytes.Clone(frame),
		})
	}
	return candidates, nil
}

func (e *Extractor) anyConfident(detections []oracle.Detection) bool {
	for _, d := range detections {
		if d.Confidence > e.confidenceThreshold {
			return true
		}
	}
	return false
}

// keepFaces drops low-confidence detections and orders the rest by area,
// largest first, keeping detection order among equal areas.
func (e *Extractor) keepFaces(detections []oracle.Detection, width, height int) []Face {
	var faces []Face
	for _, d := range detections {
		if d.Confidence <= e.confidenceThreshold {
			continue
		}
		faces = append(faces, Face{
			Box:        boxFromDetection(d, width, height),
			Confidence: d.Confidence,
		})
	}
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Box.Area() > faces[j].Box.Area()
	})
	return faces
}

func encodeCrop(img image.Image, box Box) ([]byte, error) {
	r := box.Rect().Add(img.Bounds().Min)
	cropped := imaging.Crop(img, r)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(cropJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode face crop: %w", err)
	}
	return buf.Bytes(), nil
}
