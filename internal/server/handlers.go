package server

import (
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/nfnt/resize"

	"github.com/AndreiCostinescu/ml1-mnist/internal/dataset"
)

// Handler exposes the prediction endpoints.
type Handler struct {
	server *Server
}

func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "model": h.server.ModelName()})
}

// Predict scores a raw pixel array posted as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Image) != h.server.Metadata.Features {
		http.Error(w, "Wrong image length", http.StatusBadRequest)
		return
	}

	result, err := h.server.Predict(req.Image)
	if err != nil {
		h.server.logger.Errorw("prediction failed", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// PredictFromImage scores an uploaded PNG or JPEG.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 10MB max
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}
	h.server.logger.Infow("received image", "file", header.Filename, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	result, err := h.server.Predict(preprocessImage(img))
	if err != nil {
		h.server.logger.Errorw("prediction failed", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// preprocessImage converts an arbitrary image into the 28x28 grayscale
// vector the models were trained on. MNIST digits are white on black, so a
// light background is inverted.
func preprocessImage(img image.Image) []float64 {
	size := uint(dataset.ImageSize)
	resized := resize.Resize(size, size, img, resize.Lanczos3)

	input := make([]float64, dataset.ImageSize*dataset.ImageSize)
	sum := 0.0
	for y := 0; y < dataset.ImageSize; y++ {
		for x := 0; x < dataset.ImageSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			// luminance, scaled to [0, 1]
			v := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			input[y*dataset.ImageSize+x] = v
			sum += v
		}
	}

	if sum/float64(len(input)) > 0.5 {
		for i := range input {
			input[i] = 1 - input[i]
		}
	}
	return input
}
