// Package analysis turns raw backend output into per-face results and history records.
// It owns the two entry points the UI drives: a one-shot image analysis and the per-frame live transform.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrInference wraps every failure of the inference backend in image mode.
	ErrInference = errors.New("face analysis failed")
	// ErrNoFace is reported by live mode when the backend returns no face for a frame.
	ErrNoFace = errors.New("no face in frame")
)

// Analyzer is the inference backend: the Python worker pool or the DeepFace REST client.
type Analyzer interface {
	Analyze(ctx context.Context, f frame.BGR, actions []types.Action, enforceDetection bool) ([]types.FaceAnalysis, error)
}

// Recorder persists analysis records.
type Recorder interface {
	Append(ctx context.Context, records []types.AnalysisRecord) error
}

// BuildActions returns the attributes to request. Emotion is always included.
func BuildActions(details bool) []types.Action {
	if !details {
		return []types.Action{types.ActionEmotion}
	}
	return []types.Action{types.ActionEmotion, types.ActionAge, types.ActionGender, types.ActionRace}
}

// Dominant returns the label with the highest score.
// Ties go to the alphabetically first label so the answer doesn't depend on map order.
func Dominant(scores map[string]float64) (label string, score float64, ok bool) {
	for k, v := range scores {
		if !ok || v > score || (v == score && k < label) {
			label, score, ok = k, v, true
		}
	}
	return label, score, ok
}

// FaceResult is what the UI shows for one face.
type FaceResult struct {
	Index             int                `json:"index"`
	Region            types.Box          `json:"region"`
	Emotion           string             `json:"emotion"`
	EmotionConfidence float64            `json:"emotion_confidence"`
	Emotions          map[string]float64 `json:"emotions,omitempty"`
	Age               *int               `json:"age,omitempty"`
	Gender            string             `json:"gender,omitempty"`
	Race              string             `json:"race,omitempty"`
}

// Record converts the face into a history row stamped with t.
func (f FaceResult) Record(t time.Time) types.AnalysisRecord {
	return types.AnalysisRecord{
		Time:              t,
		Emotion:           f.Emotion,
		EmotionConfidence: f.EmotionConfidence,
		Age:               f.Age,
		Gender:            f.Gender,
		Race:              f.Race,
	}
}

// Summarize reduces one backend face to the attributes that were asked for.
// Attributes that were not requested stay empty even if the backend filled them in.
func Summarize(index int, face types.FaceAnalysis, actions []types.Action) FaceResult {
	res := FaceResult{Index: index, Region: face.Region}
	for _, a := range actions {
		switch a {
		case types.ActionEmotion:
			if label, score, ok := Dominant(face.Emotion); ok {
				res.Emotion = label
				res.EmotionConfidence = round2(score)
				res.Emotions = face.Emotion
			}
		case types.ActionAge:
			res.Age = face.Age
		case types.ActionGender:
			res.Gender = face.Gender
			if res.Gender == "" {
				res.Gender, _, _ = Dominant(face.GenderScores)
			}
		case types.ActionRace:
			res.Race, _, _ = Dominant(face.Race)
		}
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// scaleBox maps a region found on a downscaled copy back onto the original image.
func scaleBox(b types.Box, factor float64) types.Box {
	if factor == 1 {
		return b
	}
	return types.Box{
		X: int(math.Round(float64(b.X) * factor)),
		Y: int(math.Round(float64(b.Y) * factor)),
		W: int(math.Round(float64(b.W) * factor)),
		H: int(math.Round(float64(b.H) * factor)),
	}
}

// Options tunes a Service.
type Options struct {
	// MaxSide downscales uploads before inference; 0 keeps the original size.
	MaxSide int
	// LabelSize is the live overlay font size in points.
	LabelSize float64
}

// Service glues an inference backend to the history log.
type Service struct {
	analyzer Analyzer
	recorder Recorder
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewService builds a Service. recorder may be nil, in which case nothing is logged.
func NewService(analyzer Analyzer, recorder Recorder, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LabelSize <= 0 {
		opts.LabelSize = 32
	}
	return &Service{
		analyzer: analyzer,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// ImageResult is the outcome of one image-mode analysis.
type ImageResult struct {
	Actions []types.Action         `json:"actions"`
	Faces   []FaceResult           `json:"faces"`
	Records []types.AnalysisRecord `json:"-"`
	// LogError is set when the faces were analyzed but could not be written to history.
	LogError error `json:"-"`
}

// AnalyzeImage runs one upload through the backend with lenient detection and logs one record per face.
// On inference failure nothing is logged and the error wraps ErrInference.
func (s *Service) AnalyzeImage(ctx context.Context, img image.Image, details bool) (*ImageResult, error) {
	if img.Bounds().Empty() {
		return nil, frame.ErrEmptyImage
	}
	actions := BuildActions(details)

	scaled := frame.Fit(img, s.opts.MaxSide)
	factor := float64(img.Bounds().Dx()) / float64(scaled.Bounds().Dx())

	faces, err := s.analyzer.Analyze(ctx, frame.NewBGR(scaled), actions, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	stamp := s.now()
	res := &ImageResult{Actions: actions, Faces: make([]FaceResult, 0, len(faces))}
	for i, face := range faces {
		face.Region = scaleBox(face.Region, factor)
		fr := Summarize(i+1, face, actions)
		res.Faces = append(res.Faces, fr)
		res.Records = append(res.Records, fr.Record(stamp))
	}

	if s.recorder != nil && len(res.Records) > 0 {
		if err := s.recorder.Append(ctx, res.Records); err != nil {
			s.logger.Error("failed to append analysis history", zap.Int("records", len(res.Records)), zap.Error(err))
			res.LogError = err
		}
	}

	s.logger.Info("image analyzed",
		zap.Int("faces", len(res.Faces)),
		zap.Bool("details", details),
	)
	return res, nil
}

// LiveEmotion returns the dominant emotion of the first face in img.
func (s *Service) LiveEmotion(ctx context.Context, img image.Image) (string, error) {
	faces, err := s.analyzer.Analyze(ctx, frame.NewBGR(img), []types.Action{types.ActionEmotion}, false)
	if err != nil {
		return "", err
	}
	if len(faces) == 0 {
		return "", ErrNoFace
	}
	label, _, ok := Dominant(faces[0].Emotion)
	if !ok {
		return "", ErrNoFace
	}
	return label, nil
}

// FrameTransform is the live-mode callback handed to the streaming layer.
// It labels each frame with its dominant emotion. Failures are only logged and the
// frame passes through untouched. Nothing is written to history.
func (s *Service) FrameTransform() func(ctx context.Context, img image.Image) image.Image {
	return func(ctx context.Context, img image.Image) image.Image {
		label, err := s.LiveEmotion(ctx, img)
		if err != nil {
			if errors.Is(err, ErrNoFace) {
				s.logger.Debug("live frame skipped", zap.Error(err))
			} else {
				s.logger.Warn("live frame analysis failed", zap.Error(err))
			}
			return img
		}
		return frame.DrawLabel(img, "Emotion: "+label, image.Pt(20, 40), frame.LabelColor, s.opts.LabelSize)
	}
}
