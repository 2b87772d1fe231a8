package relay

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	urlErr := func(err error) error {
		return &url.Error{Op: "Get", URL: "http://a.example/", Err: err}
	}

	tests := []struct {
		name       string
		err        error
		wantClass  FailureClass
		wantTag    string
		wantStatus int
	}{
		{
			name:       "canceled",
			err:        urlErr(context.Canceled),
			wantClass:  ClassCanceled,
			wantTag:    TagCanceled,
			wantStatus: StatusClientClosedRequest,
		},
		{
			name:       "unknown authority",
			err:        urlErr(x509.UnknownAuthorityError{}),
			wantClass:  ClassNetworkError,
			wantTag:    TagSSLCertificateError,
			wantStatus: StatusInvalidSSLCert,
		},
		{
			name:       "deadline exceeded",
			err:        urlErr(context.DeadlineExceeded),
			wantClass:  ClassNetworkError,
			wantTag:    TagTimeout,
			wantStatus: 504,
		},
		{
			name:       "io deadline",
			err:        urlErr(os.ErrDeadlineExceeded),
			wantClass:  ClassNetworkError,
			wantTag:    TagTimeout,
			wantStatus: 504,
		},
		{
			name:       "eof",
			err:        urlErr(io.EOF),
			wantClass:  ClassNetworkError,
			wantTag:    TagServerDisconnected,
			wantStatus: 502,
		},
		{
			name:       "connection reset",
			err:        urlErr(&net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}),
			wantClass:  ClassNetworkError,
			wantTag:    TagServerDisconnected,
			wantStatus: 502,
		},
		{
			name:       "connection refused",
			err:        urlErr(&net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}),
			wantClass:  ClassNetworkError,
			wantTag:    TagConnectError,
			wantStatus: 503,
		},
		{
			name:       "dns",
			err:        urlErr(&net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid"}}),
			wantClass:  ClassNetworkError,
			wantTag:    TagConnectError,
			wantStatus: 503,
		},
		{
			name:       "other network error",
			err:        urlErr(&net.OpError{Op: "write", Net: "tcp", Err: errors.New("broken")}),
			wantClass:  ClassNetworkError,
			wantTag:    TagNetworkError,
			wantStatus: 503,
		},
		{
			name:       "anything else",
			err:        fmt.Errorf("wrapped: %w", errors.New("boom")),
			wantClass:  ClassUnhandled,
			wantTag:    TagUnhandledError,
			wantStatus: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := Classify(tt.err)

			assert.Equal(t, tt.wantClass, te.Class)
			assert.Equal(t, tt.wantTag, te.Tag)
			assert.Equal(t, tt.wantStatus, te.Status)
			assert.ErrorIs(t, te, tt.err)
			assert.NotEmpty(t, te.Message)
		})
	}
}

func TestTransportError_Verbose(t *testing.T) {
	te := Classify(io.EOF)

	assert.Equal(t, "Remote server disconnected", te.Message)
	assert.Equal(t, "EOF", te.Verbose())
	assert.Equal(t, "Remote server disconnected: EOF", te.Error())
}
