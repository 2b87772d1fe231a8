package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
)

var (
	// ErrNoEndpointAvailable is returned by Remote.GetURL when the serving pool is empty.
	// Callers must not retry it within the same request.
	ErrNoEndpointAvailable = errors.New("no endpoints available")

	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrRemoteClosed    = errors.New("remote is closed")
)

// FailureClass names a category of failure that break_on can select.
type FailureClass string

const (
	ClassHTTP4xx      FailureClass = "http_4xx"
	ClassHTTP5xx      FailureClass = "http_5xx"
	ClassNetworkError FailureClass = "network_error"
	ClassUnhandled    FailureClass = "unhandled_exception"

	// ClassCanceled is never a valid break_on entry: a client giving up says nothing about the upstream.
	ClassCanceled FailureClass = "canceled"
)

// DefaultBreakOn is used when a remote does not configure break_on at all.
func DefaultBreakOn() []FailureClass {
	return []FailureClass{ClassNetworkError, ClassUnhandled}
}

const (
	StatusClientClosedRequest = 499
	StatusInvalidSSLCert      = 526
)

// Failure tags attached to endpoints. Probe failures carry the same tags with a PROBE_ prefix.
const (
	TagSSLCertificateError = "SSL_CERTIFICATE_ERROR"
	TagTimeout             = "TIMEOUT"
	TagServerDisconnected  = "SERVER_DISCONNECTED"
	TagConnectError        = "CONNECT_ERROR"
	TagNetworkError        = "NETWORK_ERROR"
	TagCanceled            = "CANCELED"
	TagUnhandledError      = "UNHANDLED_ERROR"

	probeTagPrefix = "PROBE_"
)

// TransportError is a classified failure to obtain any response from an upstream.
type TransportError struct {
	Class   FailureClass
	Tag     string
	Status  int    // status code synthesized for the client
	Message string // short, client facing
	Err     error  // original error. Not for client!
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Message + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Verbose returns the detailed cause, suitable for logs and debug responses.
func (e *TransportError) Verbose() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Err.Error()
}

// Classify maps an error returned by an HTTP round trip onto the response the client receives
// and the failure class the circuit breaker sees.
func Classify(err error) *TransportError {
	te := &TransportError{Err: err}

	switch {
	case errors.Is(err, context.Canceled):
		te.Class, te.Tag, te.Status, te.Message = ClassCanceled, TagCanceled, StatusClientClosedRequest, "Client closed request"
	case isCertificateError(err):
		te.Class, te.Tag, te.Status, te.Message = ClassNetworkError, TagSSLCertificateError, StatusInvalidSSLCert, "Invalid SSL certificate"
	case isTimeout(err):
		te.Class, te.Tag, te.Status, te.Message = ClassNetworkError, TagTimeout, http.StatusGatewayTimeout, "Timeout"
	case isDisconnect(err):
		te.Class, te.Tag, te.Status, te.Message = ClassNetworkError, TagServerDisconnected, http.StatusBadGateway, "Remote server disconnected"
	case isConnectError(err):
		te.Class, te.Tag, te.Status, te.Message = ClassNetworkError, TagConnectError, http.StatusServiceUnavailable, "Unavailable"
	case isNetworkError(err):
		te.Class, te.Tag, te.Status, te.Message = ClassNetworkError, TagNetworkError, http.StatusServiceUnavailable, "Unavailable"
	default:
		te.Class, te.Tag, te.Status, te.Message = ClassUnhandled, TagUnhandledError, http.StatusInternalServerError, "Unhandled error"
	}

	return te
}

func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		rootsMissing x509.SystemRootsError
	)

	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &rootsMissing)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isNetworkError(err error) bool {
	var opErr *net.OpError

	return errors.As(err, &opErr)
}
