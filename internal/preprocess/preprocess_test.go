package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vidfeatures/internal/models"
)

func solidFrame(w, h int, order models.ColorOrder, px ...byte) models.Frame {
	pix := make([]byte, 0, w*h*len(px))
	for i := 0; i < w*h; i++ {
		pix = append(pix, px...)
	}
	return models.Frame{Width: w, Height: h, Pix: pix, Order: order}
}

func TestToRGBFromBGR(t *testing.T) {
	f := solidFrame(2, 1, models.BGR, 10, 20, 30)

	rgb, err := ToRGB(f)
	require.NoError(t, err)
	assert.Equal(t, models.RGB, rgb.Order)
	assert.Equal(t, []byte{30, 20, 10, 30, 20, 10}, rgb.Pix)
	// the source frame is left untouched
	assert.Equal(t, byte(10), f.Pix[0])
}

func TestToRGBFromRGBA(t *testing.T) {
	f := solidFrame(1, 2, models.RGBA, 1, 2, 3, 255)

	rgb, err := ToRGB(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, rgb.Pix)
}

func TestToRGBRejectsShortBuffer(t *testing.T) {
	_, err := ToRGB(models.Frame{Width: 4, Height: 4, Pix: make([]byte, 10), Order: models.BGR})
	assert.Error(t, err)
}

func TestResizedSize(t *testing.T) {
	w, h := ResizedSize(640, 480, ResizeSize)
	assert.Equal(t, 341, w)
	assert.Equal(t, 256, h)

	w, h = ResizedSize(480, 640, ResizeSize)
	assert.Equal(t, 256, w)
	assert.Equal(t, 341, h)

	w, h = ResizedSize(300, 300, ResizeSize)
	assert.Equal(t, 256, w)
	assert.Equal(t, 256, h)
}

func TestTransformNormalizesSolidColor(t *testing.T) {
	f := solidFrame(320, 240, models.RGB, 255, 0, 128)

	out, err := Transform(f)
	require.NoError(t, err)
	require.Len(t, out, TensorLen)

	plane := CropSize * CropSize
	want := [Channels]float32{
		(1 - Mean[0]) / Std[0],
		(0 - Mean[1]) / Std[1],
		(128.0/255 - Mean[2]) / Std[2],
	}
	for c := 0; c < Channels; c++ {
		for _, i := range []int{0, plane / 2, plane - 1} {
			assert.InDelta(t, want[c], out[c*plane+i], 0.02, "channel %d index %d", c, i)
		}
	}
}

func TestTransformCropsCenter(t *testing.T) {
	// left half black, right half white; after resize to 341x256 and center crop
	// the crop's first column is black and its last column is white
	w, h := 640, 480
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			i := (y*w + x) * 3
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}
	out, err := Transform(models.Frame{Width: w, Height: h, Pix: pix, Order: models.RGB})
	require.NoError(t, err)

	row := CropSize / 2
	black := (0 - Mean[0]) / Std[0]
	white := (1 - Mean[0]) / Std[0]
	assert.InDelta(t, black, out[row*CropSize], 0.02)
	assert.InDelta(t, white, out[row*CropSize+CropSize-1], 0.02)
}

func TestTransformRequiresRGB(t *testing.T) {
	_, err := Transform(solidFrame(300, 300, models.BGR, 1, 2, 3))
	assert.Error(t, err)
}

func TestBatchAppendAndReset(t *testing.T) {
	b := NewBatch(2)
	t1 := make([]float32, TensorLen)
	t2 := make([]float32, TensorLen)
	t2[0] = 7

	require.NoError(t, b.Append(t1))
	require.NoError(t, b.Append(t2))
	assert.Equal(t, 2, b.Len())
	assert.Len(t, b.Data, 2*TensorLen)
	assert.Equal(t, float32(7), b.Frame(1)[0])

	assert.Error(t, b.Append(make([]float32, 3)))

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Data)
}
