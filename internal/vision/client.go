package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

type recognizeRequest struct {
	Image  string       `json:"image"`
	Region plate.Region `json:"region"`
}

// HTTPDetector calls an external detection model over HTTP.
type HTTPDetector struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPDetector(cfg config.VisionConfig) *HTTPDetector {
	return &HTTPDetector{
		url:     cfg.DetectorURL,
		timeout: cfg.DetectorTimeout,
		client:  &http.Client{},
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	var resp detectResponse
	err := postJSON(ctx, d.client, d.url, d.timeout, detectRequest{
		Image: base64.StdEncoding.EncodeToString(frame),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return resp.Detections, nil
}

// HTTPRecognizer calls an external OCR engine over HTTP.
type HTTPRecognizer struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPRecognizer(cfg config.VisionConfig) *HTTPRecognizer {
	return &HTTPRecognizer{
		url:     cfg.OCRURL,
		timeout: cfg.OCRTimeout,
		client:  &http.Client{},
	}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, frame []byte, region plate.Region) (Recognition, error) {
	var resp Recognition
	err := postJSON(ctx, r.client, r.url, r.timeout, recognizeRequest{
		Image:  base64.StdEncoding.EncodeToString(frame),
		Region: region,
	}, &resp)
	if err != nil {
		return Recognition{}, fmt.Errorf("recognize: %w", err)
	}
	return resp, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCapabilityTimeout
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
