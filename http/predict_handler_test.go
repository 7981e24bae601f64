package http

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"mlops/inference"
	"mlops/ml"
)

type fakeModel struct {
	label int
	probs []float64
	err   error
}

func (f *fakeModel) Classify(features []float64) (int, error) { return f.label, f.err }
func (f *fakeModel) ClassProbabilities(features []float64) ([]float64, error) {
	return f.probs, f.err
}
func (f *fakeModel) Classes() []int { return []int{0, 1} }

type recordingObserver struct {
	mu     sync.Mutex
	events []inference.Event
}

func (r *recordingObserver) ObservePrediction(ev inference.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

const scenarioBody = `{"feature1":0.496714,"feature2":1.399355,"feature3":-0.675178,"feature4":-1.907808}`

func postPredict(t *testing.T, handler http.Handler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return rr, payload
}

func assertPredictionShape(t *testing.T, payload map[string]interface{}) {
	t.Helper()
	if len(payload) != 3 {
		t.Fatalf("expected exactly three fields, got %v", payload)
	}
	for _, key := range []string{"prediction", "probability", "message"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing field %s in %v", key, payload)
		}
	}
}

func TestPredictWithoutModel(t *testing.T) {
	mux := newTestMux(&Handler{State: inference.NewState(nil)})
	for _, body := range []string{scenarioBody, `{"feature1":1e9,"feature2":-3,"feature3":0,"feature4":"2.5"}`} {
		rr, payload := postPredict(t, mux, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		assertPredictionShape(t, payload)
		if payload["prediction"].(float64) != -1 || payload["probability"].(float64) != 0 || payload["message"] != "Model not loaded" {
			t.Fatalf("unexpected degraded response: %v", payload)
		}
	}
}

func TestPredictScenarioWithFixtureModel(t *testing.T) {
	state := inference.Load(ml.TypeRandomForest, filepath.Join("..", "inference", "testdata", "model.json"), zap.NewNop())
	mux := newTestMux(&Handler{State: state})

	var first string
	for i := 0; i < 3; i++ {
		rr, payload := postPredict(t, mux, scenarioBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		assertPredictionShape(t, payload)
		if payload["prediction"].(float64) != 1 || payload["probability"].(float64) != 0.75 {
			t.Fatalf("unexpected prediction: %v", payload)
		}
		if payload["message"] != "Successfully predicted class 1" {
			t.Fatalf("unexpected message: %v", payload["message"])
		}
		if i == 0 {
			first = rr.Body.String()
		} else if rr.Body.String() != first {
			t.Fatalf("expected identical responses, got %s and %s", first, rr.Body.String())
		}
	}
}

func TestPredictWithTrainedModelStaysInRange(t *testing.T) {
	ds, err := ml.GenerateDataset(300, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model, _, err := ml.Train(ds, ml.DefaultTrainOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mux := newTestMux(&Handler{State: inference.NewState(model)})

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 25; i++ {
		body, _ := json.Marshal(inference.Request{
			Feature1: rnd.NormFloat64() * 3,
			Feature2: rnd.NormFloat64() * 3,
			Feature3: rnd.NormFloat64() * 3,
			Feature4: rnd.NormFloat64() * 3,
		})
		_, payload := postPredict(t, mux, string(body))
		assertPredictionShape(t, payload)
		probability := payload["probability"].(float64)
		if probability < 0 || probability > 1 {
			t.Fatalf("probability out of range: %v", payload)
		}
		if label := payload["prediction"].(float64); label != 0 && label != 1 {
			t.Fatalf("prediction is not a known class: %v", payload)
		}
	}
}

func TestPredictInferenceErrorIsInBand(t *testing.T) {
	mux := newTestMux(&Handler{State: inference.NewState(&fakeModel{err: errors.New("numeric overflow")})})
	rr, payload := postPredict(t, mux, scenarioBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	assertPredictionShape(t, payload)
	if payload["prediction"].(float64) != -1 || payload["probability"].(float64) != 0 {
		t.Fatalf("unexpected error response: %v", payload)
	}
	if payload["message"] != "Error: numeric overflow" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
}

func TestPredictValidation(t *testing.T) {
	mux := newTestMux(&Handler{State: inference.NewState(&fakeModel{label: 1, probs: []float64{0.4, 0.6}})})
	for _, tc := range []struct {
		name  string
		body  string
		field string
		kind  string
	}{
		{name: "missing", body: `{"feature1":1,"feature3":1,"feature4":1}`, field: "feature2", kind: "missing"},
		{name: "not a number", body: `{"feature1":1,"feature2":1,"feature3":"abc","feature4":1}`, field: "feature3", kind: "float_parsing"},
		{name: "wrong type", body: `{"feature1":[1],"feature2":1,"feature3":1,"feature4":1}`, field: "feature1", kind: "float_type"},
		{name: "null", body: `{"feature1":1,"feature2":1,"feature3":1,"feature4":null}`, field: "feature4", kind: "float_type"},
		{name: "malformed json", body: `{"feature1":`, field: "", kind: "json_invalid"},
		{name: "trailing data", body: `{"feature1":1,"feature2":1,"feature3":1,"feature4":1}garbage`, field: "", kind: "json_invalid"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", rr.Code)
			}
			var payload validationErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if len(payload.Detail) != 1 || payload.Detail[0].Type != tc.kind {
				t.Fatalf("unexpected detail: %+v", payload.Detail)
			}
			if tc.field != "" && payload.Detail[0].Loc[1] != tc.field {
				t.Fatalf("expected error on %s, got %+v", tc.field, payload.Detail[0])
			}
		})
	}
}

func TestPredictNonFiniteIsInBand(t *testing.T) {
	mux := newTestMux(&Handler{State: inference.NewState(&fakeModel{label: 1, probs: []float64{0.4, 0.6}})})
	for _, body := range []string{
		`{"feature1":"nan","feature2":1,"feature3":1,"feature4":1}`,
		`{"feature1":1,"feature2":"inf","feature3":1,"feature4":1}`,
		`{"feature1":1,"feature2":1,"feature3":1e400,"feature4":1}`,
		`{"feature1":1,"feature2":1,"feature3":1,"feature4":-1e400}`,
	} {
		rr, payload := postPredict(t, mux, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", body, rr.Code)
		}
		assertPredictionShape(t, payload)
		if payload["prediction"].(float64) != -1 || payload["probability"].(float64) != 0 {
			t.Fatalf("unexpected response for %s: %v", body, payload)
		}
		if !strings.HasPrefix(payload["message"].(string), "Error: input contains NaN or infinity") {
			t.Fatalf("unexpected message for %s: %v", body, payload["message"])
		}
	}
}

func TestPredictAcceptsBooleansAndNumericStrings(t *testing.T) {
	observer := &recordingObserver{}
	mux := newTestMux(&Handler{
		State:    inference.NewState(&fakeModel{label: 1, probs: []float64{0.4, 0.6}}),
		Observer: observer,
	})
	rr, payload := postPredict(t, mux, `{"feature1":true,"feature2":false,"feature3":" 2.5 ","feature4":-3}`)
	if rr.Code != http.StatusOK || payload["message"] != "Successfully predicted class 1" {
		t.Fatalf("unexpected response: %d %v", rr.Code, payload)
	}
	want := inference.Request{Feature1: 1, Feature2: 0, Feature3: 2.5, Feature4: -3}
	if len(observer.events) != 1 || observer.events[0].Request != want {
		t.Fatalf("unexpected decoded request: %+v", observer.events)
	}
}

func TestPredictRejectsGet(t *testing.T) {
	mux := newTestMux(&Handler{State: inference.NewState(nil)})
	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestServerChainPropagatesRequestID(t *testing.T) {
	observer := &recordingObserver{}
	handler := &Handler{
		State:    inference.NewState(&fakeModel{label: 0, probs: []float64{0.9, 0.1}}),
		Observer: observer,
		Logger:   zap.NewNop(),
	}
	server := NewServer(DefaultServerConfig(), handler, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(scenarioBody))
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("expected request id header, got %q", rr.Header().Get("X-Request-ID"))
	}
	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.events) != 1 {
		t.Fatalf("expected one event, got %d", len(observer.events))
	}
	ev := observer.events[0]
	if ev.RequestID != "abc-123" || ev.Prediction != 0 || ev.Probability != 0.9 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Request.Feature4 != -1.907808 {
		t.Fatalf("expected request features to be forwarded, got %+v", ev.Request)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	var reached bool
	handler := CORSMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || reached {
		t.Fatalf("expected preflight to be answered directly, got %d reached=%v", rr.Code, reached)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected allowed origin to be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if !reached || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected unlisted origin to pass through without CORS headers, reached=%v header=%q",
			reached, rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
