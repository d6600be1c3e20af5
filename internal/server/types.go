package server

// Metadata describes the input the loaded model expects.
type Metadata struct {
	Classes   []string `json:"classes"`
	ImageSize int      `json:"image_size"`
	Features  int      `json:"features"`
}

type PredictionRequest struct {
	Image []float64 `json:"image"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float64            `json:"confidence"`
	Predictions map[string]float64 `json:"predictions"`
}
