package inference

// Request is one prediction input row.
type Request struct {
	Feature1 float64 `json:"feature1"`
	Feature2 float64 `json:"feature2"`
	Feature3 float64 `json:"feature3"`
	Feature4 float64 `json:"feature4"`
}

// Vector lays the fields out in the column order the model was trained on.
func (r Request) Vector() []float64 {
	return []float64{r.Feature1, r.Feature2, r.Feature3, r.Feature4}
}

// ExampleRequest is the sample payload advertised by the API docs.
func ExampleRequest() Request {
	return Request{Feature1: 0.5, Feature2: 1.4, Feature3: -0.67, Feature4: -1.91}
}
