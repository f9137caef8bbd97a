package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/store"
	"github.com/andresmejia3/facelens/internal/types"
	"go.uber.org/zap"
)

type analyzeResponse struct {
	Actions  []types.Action        `json:"actions"`
	Faces    []analysis.FaceResult `json:"faces"`
	LogError string                `json:"log_error,omitempty"`
}

type historyRow struct {
	Time              string  `json:"time"`
	Emotion           string  `json:"emotion"`
	EmotionConfidence float64 `json:"emotion_confidence"`
	Age               *int    `json:"age"`
	Gender            string  `json:"gender"`
	Race              string  `json:"race"`
}

type historyResponse struct {
	Records []historyRow         `json:"records"`
	Summary []store.EmotionCount `json:"summary"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	details, _ := strconv.ParseBool(r.FormValue("details"))
	if r.FormValue("details") == "on" {
		details = true
	}

	img, err := frame.Decode(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read image: "+err.Error())
		return
	}

	res, err := s.analyzer.AnalyzeImage(r.Context(), img, details)
	if err != nil {
		switch {
		case errors.Is(err, frame.ErrEmptyImage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, analysis.ErrInference):
			s.logger.Warn("image analysis failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("image analysis failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	resp := analyzeResponse{Actions: res.Actions, Faces: res.Faces}
	if res.LogError != nil {
		resp.LogError = res.LogError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.ReadAll(r.Context())
	if err != nil {
		s.logger.Warn("history read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := historyResponse{
		Records: make([]historyRow, 0, len(records)),
		Summary: store.Summarize(records),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, historyRow{
			Time:              rec.Time.Format(store.TimeLayout),
			Emotion:           rec.Emotion,
			EmotionConfidence: rec.EmotionConfidence,
			Age:               rec.Age,
			Gender:            rec.Gender,
			Race:              rec.Race,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResult{Error: msg})
}
