package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToHTTP_Table(t *testing.T) {
	tests := []struct {
		code       codes.Code
		wantStatus int
		wantName   string
	}{
		{codes.InvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENTS"},
		{codes.NotFound, http.StatusNotFound, "NOT_FOUND"},
		{codes.AlreadyExists, http.StatusConflict, "CONFLICT"},
		{codes.PermissionDenied, http.StatusForbidden, "FORBIDDEN"},
		{codes.Unauthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
		{codes.ResourceExhausted, http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			body, unmapped := ToHTTP(New(tt.code, "boom"))
			assert.False(t, unmapped)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantName, body.Name)
			assert.Equal(t, "boom", body.Message)
		})
	}
}

func TestToHTTP_UnknownDoesNotLeak(t *testing.T) {
	body, unmapped := ToHTTP(errors.New("pq: relation users does not exist"))
	assert.True(t, unmapped)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Name)
	assert.Equal(t, GenericMessage, body.Message)
}

func TestToHTTP_UnknownWithDetailsPayload(t *testing.T) {
	err := status.Error(codes.Internal, `{"message":"Quota exceeded","conduitCode":"QUOTA"}`)
	body, unmapped := ToHTTP(err)
	assert.True(t, unmapped)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.Equal(t, "Quota exceeded", body.Message)
	assert.Equal(t, "QUOTA", body.ConduitCode)
}

func TestGRPCStatusRoundTrip(t *testing.T) {
	orig := New(codes.PermissionDenied, "not yours").WithConduitCode("NOT_OWNER")

	got := From(orig.GRPCStatus().Err())
	require.NotNil(t, got)
	assert.Equal(t, codes.PermissionDenied, got.Code)
	assert.Equal(t, "not yours", got.Message)
	assert.Equal(t, "NOT_OWNER", got.ConduitCode)

	plain := From(New(codes.NotFound, "missing").GRPCStatus().Err())
	assert.Equal(t, "missing", plain.Message)
	assert.False(t, plain.Surfaced)
}

func TestFrom(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", New(codes.NotFound, "no item"))
	assert.Equal(t, codes.NotFound, From(wrapped).Code)

	assert.Equal(t, codes.DeadlineExceeded, From(context.DeadlineExceeded).Code)
	assert.Equal(t, codes.Unknown, From(errors.New("x")).Code)
	assert.Nil(t, From(nil))
}
