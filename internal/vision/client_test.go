package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

func TestHTTPDetectorDecodesDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)
		json.NewEncoder(w).Encode(detectResponse{Detections: []Detection{
			{Region: plate.Region{X: 10, Y: 20, Width: 200, Height: 60}, Confidence: 0.9},
		}})
	}))
	defer srv.Close()

	d := NewHTTPDetector(config.VisionConfig{DetectorURL: srv.URL, DetectorTimeout: time.Second})
	dets, err := d.Detect(context.Background(), []byte("frame"))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0.9, dets[0].Confidence)
	assert.Equal(t, 200, dets[0].Region.Width)
}

func TestHTTPDetectorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewHTTPDetector(config.VisionConfig{DetectorURL: srv.URL, DetectorTimeout: 20 * time.Millisecond})
	_, err := d.Detect(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, ErrCapabilityTimeout)
}

func TestHTTPRecognizerEmptyTextIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Recognition{Text: "", Confidence: 0.1})
	}))
	defer srv.Close()

	rz := NewHTTPRecognizer(config.VisionConfig{OCRURL: srv.URL, OCRTimeout: time.Second})
	rec, err := rz.Recognize(context.Background(), []byte("frame"), plate.Region{Width: 10, Height: 5})
	require.NoError(t, err)
	assert.Empty(t, rec.Text)
	assert.Equal(t, 0.1, rec.Confidence)
}

func TestScannerComposesCapabilities(t *testing.T) {
	detectSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detectResponse{Detections: []Detection{
			{Region: plate.Region{X: 1, Y: 2, Width: 100, Height: 40}, Confidence: 0.9},
			{Region: plate.Region{X: 5, Y: 6, Width: 120, Height: 50}, Confidence: 0.7},
		}})
	}))
	defer detectSrv.Close()

	ocrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Region.X == 1 {
			json.NewEncoder(w).Encode(Recognition{Text: "ABC-1234", Confidence: 0.8})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ocrSrv.Close()

	cfg := config.VisionConfig{
		DetectorURL: detectSrv.URL, DetectorTimeout: time.Second,
		OCRURL: ocrSrv.URL, OCRTimeout: time.Second,
	}
	s := NewScanner(NewHTTPDetector(cfg), NewHTTPRecognizer(cfg), zerolog.Nop())

	now := time.Now()
	cands, err := s.Scan(context.Background(), "cam1", []byte("frame"), now)
	require.NoError(t, err)

	// the failing region is skipped, the good one survives
	require.Len(t, cands, 1)
	assert.Equal(t, "cam1", cands[0].SourceID)
	assert.Equal(t, "ABC-1234", cands[0].Text)
	assert.Equal(t, 0.9, cands[0].DetectionConf)
	assert.Equal(t, 0.8, cands[0].OCRConf)
	assert.Equal(t, now, cands[0].CapturedAt)
}
