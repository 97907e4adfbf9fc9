// Package functions talks to the backend functions that ingest uploaded files
// and open payment intents.
package functions

import (
	"encoding/base64"
	"errors"
	"strings"

	"ready2publish/pkg/domain"
)

// Endpoint paths relative to the functions base URL.
const (
	UploadPath        = "/functions/v1/upload-book-files"
	PaymentIntentPath = "/functions/v1/create-payment-intent"
)

// ErrBadDataURL is returned for a file payload that is not a base64 data URL.
var ErrBadDataURL = errors.New("file data must be a base64 data url")

// UploadRequest is the body of the upload function.
type UploadRequest struct {
	FileData   string `json:"fileData"`
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	BucketName string `json:"bucketName"`
}

// UploadResult is the data member of a successful upload response.
type UploadResult struct {
	PublicURL string `json:"publicUrl"`
	Path      string `json:"path,omitempty"`
	PageCount int    `json:"pageCount,omitempty"`
}

// Envelope wraps every function response: data on success, error otherwise.
type Envelope[T any] struct {
	Data  *T     `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// PaymentIntentResult is the data member of a payment-intent response.
type PaymentIntentResult = domain.PaymentIntent

// EncodeDataURL renders data as "data:<type>;base64,<payload>".
func EncodeDataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL is the inverse of EncodeDataURL. A bare base64 string is
// accepted with an empty content type.
func DecodeDataURL(raw string) (string, []byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, ErrBadDataURL
	}
	var contentType string
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		meta, rest, ok := strings.Cut(raw[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return "", nil, ErrBadDataURL
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrBadDataURL
	}
	return contentType, data, nil
}
