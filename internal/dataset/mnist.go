// Package dataset loads the MNIST handwritten-digit dataset and provides the
// splitting utilities used for model selection.
package dataset

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NumClasses is the number of digit classes in MNIST.
const NumClasses = 10

// ImageSize is the side length of an MNIST digit in pixels.
const ImageSize = 28

// IDX magic numbers: unsigned byte payload, 3 resp. 1 dimensions.
const (
	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// Mode selects the training or test portion of the dataset.
type Mode string

const (
	Train Mode = "train"
	Test  Mode = "test"
)

func fileNames(mode Mode) (images, labels string, err error) {
	switch mode {
	case Train:
		return "train-images.idx3-ubyte", "train-labels.idx1-ubyte", nil
	case Test:
		return "t10k-images.idx3-ubyte", "t10k-labels.idx1-ubyte", nil
	}
	return "", "", errors.Errorf("mode must be %q or %q, got %q", Train, Test, mode)
}

// Load reads the MNIST image and label files for the given mode from dir.
// It returns an (n, 784) matrix of raw pixel intensities in [0, 255] and the
// corresponding label vector.
func Load(dir string, mode Mode) (*mat.Dense, []int, error) {
	imagesName, labelsName, err := fileNames(mode)
	if err != nil {
		return nil, nil, err
	}

	x, err := readImages(filepath.Join(dir, imagesName))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading %s images", mode)
	}
	y, err := readLabels(filepath.Join(dir, labelsName))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading %s labels", mode)
	}

	n, _ := x.Dims()
	if n != len(y) {
		return nil, nil, errors.Errorf("image/label count mismatch: %d images, %d labels", n, len(y))
	}
	return x, y, nil
}

func readImages(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(f, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading IDX header")
	}
	if header.Magic != imageMagic {
		return nil, errors.Errorf("bad image magic 0x%08x", header.Magic)
	}

	// The header is untrusted input. Check the claimed payload against the
	// actual file size before allocating.
	need := int64(header.Count) * int64(header.Rows) * int64(header.Cols)
	if err := checkPayload(f, need, 16); err != nil {
		return nil, err
	}

	n := int(header.Count)
	dim := int(header.Rows) * int(header.Cols)
	pixels := make([]byte, n*dim)
	if _, err := io.ReadFull(f, pixels); err != nil {
		return nil, errors.Wrapf(err, "reading %d pixel bytes", len(pixels))
	}

	data := make([]float64, len(pixels))
	for i, p := range pixels {
		data[i] = float64(p)
	}
	return mat.NewDense(n, dim, data), nil
}

// checkPayload rejects IDX files whose header advertises more payload bytes
// than the file actually holds past its headerSize-byte header.
func checkPayload(f *os.File, need, headerSize int64) error {
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "inspecting IDX file")
	}
	if need > info.Size()-headerSize {
		return errors.Errorf("header claims %d payload bytes but file holds %d", need, info.Size()-headerSize)
	}
	return nil
}

func readLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header struct {
		Magic, Count uint32
	}
	if err := binary.Read(f, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading IDX header")
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("bad label magic 0x%08x", header.Magic)
	}

	if err := checkPayload(f, int64(header.Count), 8); err != nil {
		return nil, err
	}

	raw := make([]byte, header.Count)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d label bytes", len(raw))
	}

	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

// Scale divides every pixel by 255 in place, mapping intensities to [0, 1].
func Scale(x *mat.Dense) {
	raw := x.RawMatrix().Data
	for i := range raw {
		raw[i] /= 255
	}
}

// OneHot encodes labels as an (n, numClasses) indicator matrix.
func OneHot(y []int, numClasses int) (*mat.Dense, error) {
	out := mat.NewDense(len(y), numClasses, nil)
	for i, label := range y {
		if label < 0 || label >= numClasses {
			return nil, errors.Errorf("label %d out of range [0, %d)", label, numClasses)
		}
		out.Set(i, label, 1)
	}
	return out, nil
}

// Subset gathers the rows of x and entries of y selected by idx.
func Subset(x *mat.Dense, y []int, idx []int) (*mat.Dense, []int) {
	_, cols := x.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	labels := make([]int, len(idx))
	for i, j := range idx {
		out.SetRow(i, x.RawRowView(j))
		labels[i] = y[j]
	}
	return out, labels
}

// RenderDigit writes one 784-length row vector as a 28x28 grayscale PNG.
// Pixels may be in either the raw [0, 255] or the scaled [0, 1] range.
func RenderDigit(x []float64, path string) error {
	if len(x) != ImageSize*ImageSize {
		return errors.Errorf("expected %d pixels, got %d", ImageSize*ImageSize, len(x))
	}

	scale := 1.0
	for _, v := range x {
		if v > 1 {
			scale = 1.0 / 255
			break
		}
	}

	img := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	for row := 0; row < ImageSize; row++ {
		for col := 0; col < ImageSize; col++ {
			v := x[row*ImageSize+col] * scale
			img.SetGray(col, row, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
