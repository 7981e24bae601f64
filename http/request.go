package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mlops/inference"
)

type validationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationErrorResponse struct {
	Detail []validationError `json:"detail"`
}

var predictionFields = []string{"feature1", "feature2", "feature3", "feature4"}

// decodePredictionRequest accepts JSON numbers, booleans or numeric strings
// for each feature and reports every missing or malformed field at once.
// Non-finite values pass through; rejecting them is left to inference.
func decodePredictionRequest(body io.Reader) (inference.Request, []validationError) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(body)
	err := dec.Decode(&raw)
	if err == nil {
		if _, trailing := dec.Token(); trailing != io.EOF {
			err = errors.New("unexpected data after JSON object")
		}
	}
	if err != nil || raw == nil {
		msg := "Input should be a valid JSON object"
		if err != nil {
			msg = fmt.Sprintf("JSON decode error: %v", err)
		}
		return inference.Request{}, []validationError{{Loc: []string{"body"}, Msg: msg, Type: "json_invalid"}}
	}

	values := make([]float64, len(predictionFields))
	var problems []validationError
	for i, field := range predictionFields {
		value, ok := raw[field]
		if !ok {
			problems = append(problems, validationError{Loc: []string{"body", field}, Msg: "Field required", Type: "missing"})
			continue
		}
		parsed, problem := parseFeature(value)
		if problem != nil {
			problem.Loc = []string{"body", field}
			problems = append(problems, *problem)
			continue
		}
		values[i] = parsed
	}
	if len(problems) > 0 {
		return inference.Request{}, problems
	}
	return inference.Request{
		Feature1: values[0],
		Feature2: values[1],
		Feature3: values[2],
		Feature4: values[3],
	}, nil
}

func parseFeature(value json.RawMessage) (float64, *validationError) {
	switch text := string(value); {
	case text == "null":
		return 0, &validationError{Msg: "Input should be a valid number", Type: "float_type"}
	case text == "true":
		return 1, nil
	case text == "false":
		return 0, nil
	case text[0] == '-' || (text[0] >= '0' && text[0] <= '9'):
		// literals beyond float64 range become infinities
		number, err := strconv.ParseFloat(text, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, &validationError{Msg: "Input should be a valid number", Type: "float_type"}
		}
		return number, nil
	}

	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return 0, &validationError{Msg: "Input should be a valid number", Type: "float_type"}
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &validationError{Msg: "Input should be a valid number, unable to parse string as a number", Type: "float_parsing"}
	}
	return number, nil
}
