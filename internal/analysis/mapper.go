package analysis

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// View is the flattened, reader-facing projection of one analysis:
// the image re-encoded as Base64 text and the stored score map decoded
// back into numbers.
type View struct {
	ID              uint               `json:"id"`
	Device          string             `json:"device"`
	Status          bool               `json:"status"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	ImageBase64     string             `json:"imageBase64"`
	DominantEmotion string             `json:"dominantEmotion"`
	TargetScore     *float64           `json:"targetScore"`
	EmotionScores   map[string]float64 `json:"emotionScores"`
}

// toView projects a persisted analysis (with associations loaded) into
// its output view.
func (s *Service) toView(a *Analysis) View {
	return View{
		ID:              a.ID,
		Device:          a.Device.Name,
		Status:          a.Status,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		ImageBase64:     encodeImage(&a.Image),
		DominantEmotion: a.Emotion.Name,
		TargetScore:     a.Result.TargetScore,
		EmotionScores:   s.decodeScores(a.Result.EmotionScores),
	}
}

// encodeImage re-encodes the stored blob as Base64 text; empty when the
// image carries no data.
func encodeImage(image *Image) string {
	if len(image.Data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(image.Data)
}

// decodeScores deserializes the stored score map. A decode failure
// yields nil rather than failing the projection.
func (s *Service) decodeScores(raw string) map[string]float64 {
	if raw == "" {
		return nil
	}

	var scores map[string]float64
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		s.logger.Warn("failed to decode stored emotion scores", "error", err)
		return nil
	}
	return scores
}
