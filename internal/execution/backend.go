package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nightshift/backend/internal/domain"
)

var (
	ErrNotImplemented  = errors.New("execution: not implemented")
	ErrUnknownProvider = errors.New("execution: unknown provider")
	ErrTaskNotRunnable = errors.New("execution: task is not staged or committed")
)

type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderGCP   Provider = "gcp"
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// Outcome is what a backend reports for one run.
type Outcome struct {
	Success    bool
	Result     string
	Stdout     string
	Stderr     string
	ExitCode   int
	TokenUsage *int
	Error      string
	Duration   time.Duration
}

// Backend runs a task somewhere and reports the outcome. A returned error
// means the run could not be carried out at all.
type Backend interface {
	Provider() Provider
	Run(ctx context.Context, task *domain.Task) (*Outcome, error)
}

// BackendDeps carries what the concrete backends need.
type BackendDeps struct {
	Local *LocalBackend
}

// NewBackend selects a backend by provider tag.
func NewBackend(p Provider, deps BackendDeps) (Backend, error) {
	switch p {
	case ProviderLocal, "":
		if deps.Local == nil {
			return nil, fmt.Errorf("%w: local backend not configured", ErrUnknownProvider)
		}
		return deps.Local, nil
	case ProviderGCP, ProviderAWS, ProviderAzure:
		return &cloudBackend{provider: p}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
}

// cloudBackend stands in for the managed-execution providers.
type cloudBackend struct {
	provider Provider
}

func (b *cloudBackend) Provider() Provider { return b.provider }

func (b *cloudBackend) Run(context.Context, *domain.Task) (*Outcome, error) {
	return nil, fmt.Errorf("%w: %s execution backend", ErrNotImplemented, b.provider)
}
