package graph

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	rserr "github.com/reposage/reposage/internal/errors"
)

// ClassifyError sorts a graph backend failure into transient (retry)
// or permanent (propagate immediately). Connection-level faults and
// server-side transient codes retry; syntax and constraint violations
// never do.
func ClassifyError(err error) rserr.Kind {
	if err == nil {
		return rserr.KindInternal
	}

	// Context expiry at the caller's deadline is not retryable here;
	// the job runner owns the retry budget for timeouts.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rserr.KindPermanent
	}

	// Server-reported errors carry a Neo4j status code.
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case neoErr.IsRetriableTransient():
			return rserr.KindTransient
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError"):
			return rserr.KindTransient
		case strings.Contains(neoErr.Code, "ConstraintValidationFailed"),
			strings.Contains(neoErr.Code, "SyntaxError"),
			strings.Contains(neoErr.Code, "ParameterMissing"):
			return rserr.KindPermanent
		default:
			return rserr.KindPermanent
		}
	}

	// Driver-level connectivity problems.
	var usageErr *neo4j.UsageError
	if errors.As(err, &usageErr) {
		return rserr.KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return rserr.KindTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) {
		return rserr.KindTransient
	}

	// Pool exhaustion and routing failures surface as plain errors with
	// recognizable text; treat them as transient.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"connection acquisition timed out",
		"no routing table",
		"server unavailable",
	} {
		if strings.Contains(msg, marker) {
			return rserr.KindTransient
		}
	}

	return rserr.KindPermanent
}

// IsTransient reports whether the failure is worth retrying at the
// adapter level.
func IsTransient(err error) bool {
	return ClassifyError(err) == rserr.KindTransient
}
