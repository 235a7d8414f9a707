package gstcam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackRGB(t *testing.T) {
	// 2x2 RGB rows are 6 bytes, padded to an 8 byte stride.
	padded := []byte{
		1, 2, 3, 4, 5, 6, 0, 0,
		7, 8, 9, 10, 11, 12, 0, 0,
	}
	out, err := packRGB(padded, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, out)

	_, err = packRGB(make([]byte, 7), 2, 2)
	assert.Error(t, err)
}

func TestRgbCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=30/1", rgbCaps(640, 480, 30))
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=1/2", rgbCaps(640, 480, 0.5))
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Width: 640, Height: 480})
	assert.Error(t, err, "device is required")

	_, err = New(Config{Device: "0", Width: 0, Height: 480})
	assert.Error(t, err)

	src, err := New(Config{Device: "0", Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Equal(t, "gst", src.Name())
	assert.False(t, src.Ready())
}
