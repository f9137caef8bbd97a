package types

import "time"

// Action is an attribute the inference backend can be asked for.
type Action string

const (
	ActionEmotion Action = "emotion"
	ActionAge     Action = "age"
	ActionGender  Action = "gender"
	ActionRace    Action = "race"
)

// Box is a face region in pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// FaceAnalysis is one face as returned by the inference backend.
// Fields for actions that were not requested stay at their zero value.
type FaceAnalysis struct {
	Region       Box                `json:"region"`
	Emotion      map[string]float64 `json:"emotion,omitempty"`
	Age          *int               `json:"age,omitempty"`
	Gender       string             `json:"gender,omitempty"`        // Older DeepFace builds return a plain label
	GenderScores map[string]float64 `json:"gender_scores,omitempty"` // Newer builds return per-label scores
	Race         map[string]float64 `json:"race,omitempty"`
}

// AnalysisRecord is one row of the history log: a single face from a single analysis event.
type AnalysisRecord struct {
	Time              time.Time `json:"time"`
	Emotion           string    `json:"emotion"`
	EmotionConfidence float64   `json:"emotion_confidence"`
	Age               *int      `json:"age,omitempty"`
	Gender            string    `json:"gender,omitempty"`
	Race              string    `json:"race,omitempty"`
}

// ErrorResult captures the error object returned by the backend on failure
type ErrorResult struct {
	Error string `json:"error"`
}
