package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"ready2publish/pkg/domain"
)

// File is one upload picked by the user.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client calls the backend functions over HTTP. Failures are returned as
// *domain.RemoteOperationError carrying the function's message verbatim.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    strings.TrimSpace(anonKey),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// UploadFile stores file under area ("book-covers" or "book-files") and
// returns its public URL.
func (c *Client) UploadFile(ctx context.Context, token string, file File, area string) (string, error) {
	const op = "upload file"
	if area != domain.AreaBookCovers && area != domain.AreaBookFiles {
		return "", domain.Invalid("bucketName", "unknown upload area")
	}
	if len(file.Data) == 0 {
		return "", domain.Invalid("file", "file is empty")
	}
	payload := UploadRequest{
		FileData:   EncodeDataURL(file.ContentType, file.Data),
		FileName:   file.Name,
		FileType:   file.ContentType,
		BucketName: area,
	}
	var resp Envelope[UploadResult]
	if err := c.doJSON(ctx, op, UploadPath, token, payload, &resp); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.PublicURL == "" {
		return "", &domain.RemoteOperationError{Op: op, Status: http.StatusOK, Message: "upload response carries no public url"}
	}
	return resp.Data.PublicURL, nil
}

// CreatePaymentIntent opens a pending order for one item.
func (c *Client) CreatePaymentIntent(ctx context.Context, token string, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	const op = "create payment intent"
	var resp Envelope[PaymentIntentResult]
	if err := c.doJSON(ctx, op, PaymentIntentPath, token, req, &resp); err != nil {
		return domain.PaymentIntent{}, err
	}
	if resp.Data == nil || resp.Data.OrderID == "" {
		return domain.PaymentIntent{}, &domain.RemoteOperationError{Op: op, Status: http.StatusOK, Message: "payment intent response carries no order"}
	}
	return *resp.Data, nil
}

func (c *Client) doJSON(ctx context.Context, op, path, token string, payload any, out any) error {
	if strings.TrimSpace(token) == "" {
		return &domain.NotAuthenticatedError{Op: op}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.RemoteOperationError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return &domain.RemoteOperationError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &domain.RemoteOperationError{Op: op, Status: resp.StatusCode, Message: "empty response"}
		}
		return &domain.RemoteOperationError{Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}
