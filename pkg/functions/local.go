package functions

import (
	"context"
	"fmt"
	"strings"

	"ready2publish/pkg/domain"
)

// TokenVerifier resolves an access token to the user id it was issued to.
type TokenVerifier interface {
	VerifySubject(ctx context.Context, token string) (string, error)
}

// Local calls a Service in-process with the same contract as Client:
// the caller's token is verified and failures come back as
// *domain.RemoteOperationError carrying the status the HTTP service would
// have answered with.
type Local struct {
	svc    *Service
	tokens TokenVerifier
}

func NewLocal(svc *Service, tokens TokenVerifier) *Local {
	return &Local{svc: svc, tokens: tokens}
}

func (l *Local) UploadFile(ctx context.Context, token string, file File, area string) (string, error) {
	const op = "upload file"
	userID, err := l.authenticate(ctx, op, token)
	if err != nil {
		return "", err
	}
	res, err := l.svc.Upload(ctx, userID, UploadRequest{
		FileData:   EncodeDataURL(file.ContentType, file.Data),
		FileName:   file.Name,
		FileType:   file.ContentType,
		BucketName: area,
	})
	if err != nil {
		return "", remoteError(op, err)
	}
	return res.PublicURL, nil
}

func (l *Local) CreatePaymentIntent(ctx context.Context, token string, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	const op = "create payment intent"
	buyerID, err := l.authenticate(ctx, op, token)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	intent, err := l.svc.CreatePaymentIntent(ctx, buyerID, req)
	if err != nil {
		return domain.PaymentIntent{}, remoteError(op, err)
	}
	return intent, nil
}

func (l *Local) authenticate(ctx context.Context, op, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", &domain.NotAuthenticatedError{Op: op}
	}
	userID, err := l.tokens.VerifySubject(ctx, token)
	if err != nil {
		return "", remoteError(op, fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}
	return userID, nil
}

// remoteError flattens err the way Client sees an HTTP error response.
func remoteError(op string, err error) error {
	status, msg := StatusOf(err)
	return &domain.RemoteOperationError{Op: op, Status: status, Message: msg}
}
