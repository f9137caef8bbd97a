package worker

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/valyala/fastjson"
)

// BackendError is an error reported by the model itself (e.g. {"error": "..."}), as opposed to a transport failure.
type BackendError struct {
	Msg string
}

func (e *BackendError) Error() string {
	return "inference backend error: " + e.Msg
}

var parserPool fastjson.ParserPool

// ParseFaces decodes a DeepFace analyze payload. DeepFace returns a single face object,
// a list of faces, or (over HTTP) {"results": [...]}; an {"error": "..."} object becomes a BackendError.
func ParseFaces(data []byte) ([]types.FaceAnalysis, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("malformed backend response: %w", err)
	}

	var items []*fastjson.Value
	switch v.Type() {
	case fastjson.TypeArray:
		items = v.GetArray()
	case fastjson.TypeObject:
		if msg := v.Get("error"); msg != nil {
			return nil, &BackendError{Msg: valueString(msg)}
		}
		if results := v.Get("results"); results != nil {
			if results.Type() != fastjson.TypeArray {
				return nil, errors.New("malformed backend response: results is not a list")
			}
			items = results.GetArray()
		} else {
			items = []*fastjson.Value{v}
		}
	default:
		return nil, fmt.Errorf("malformed backend response: unexpected %s", v.Type())
	}

	faces := make([]types.FaceAnalysis, 0, len(items))
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			return nil, fmt.Errorf("malformed backend response: face %d is %s", i, item.Type())
		}
		faces = append(faces, parseFace(item))
	}
	return faces, nil
}

func parseFace(v *fastjson.Value) types.FaceAnalysis {
	var face types.FaceAnalysis

	if region := v.Get("region"); region != nil {
		face.Region = types.Box{
			X: region.GetInt("x"),
			Y: region.GetInt("y"),
			W: region.GetInt("w"),
			H: region.GetInt("h"),
		}
	}

	face.Emotion = scoreMap(v.Get("emotion"))
	face.Race = scoreMap(v.Get("race"))

	if age := v.Get("age"); age != nil {
		if f, err := age.Float64(); err == nil {
			n := int(math.Round(f))
			face.Age = &n
		}
	}

	if gender := v.Get("gender"); gender != nil {
		switch gender.Type() {
		case fastjson.TypeString:
			face.Gender = string(gender.GetStringBytes())
		case fastjson.TypeObject:
			face.GenderScores = scoreMap(gender)
		}
	}
	return face
}

// scoreMap reads a {"label": score} object. Non-numeric entries are dropped.
func scoreMap(v *fastjson.Value) map[string]float64 {
	if v == nil || v.Type() != fastjson.TypeObject {
		return nil
	}
	obj, _ := v.Object()
	scores := make(map[string]float64, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if f, err := val.Float64(); err == nil {
			scores[string(key)] = f
		}
	})
	return scores
}

func valueString(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
