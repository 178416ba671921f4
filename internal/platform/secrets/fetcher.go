package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	refPrefix       = "secret://"
	defaultVersion  = "latest"
	defaultAttempts = 3
)

// ErrInvalidReference signals the secret reference is not of the secret:// form.
var ErrInvalidReference = errors.New("secrets: invalid reference")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references through Google Secret Manager with an
// in-process cache.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string
	attempts   int

	mu    sync.RWMutex
	cache map[string]string
}

// FetcherOption customises the Fetcher.
type FetcherOption func(*Fetcher)

// WithLogger installs a logger for fetch diagnostics.
func WithLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClient injects a pre-built client, primarily for tests.
func WithClient(client secretManagerClient) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher constructs a Fetcher scoped to the given project.
func NewFetcher(ctx context.Context, projectID string, opts ...FetcherOption) (*Fetcher, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("secrets: project id is required")
	}

	fetcher := &Fetcher{
		logger:    zap.NewNop(),
		projectID: projectID,
		attempts:  defaultAttempts,
		cache:     map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fetcher)
		}
	}

	if fetcher.client == nil {
		client, err := secretmanager.NewClient(ctx, []option.ClientOption{}...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		fetcher.client = client
		fetcher.ownsClient = true
	}

	return fetcher, nil
}

// Resolve fetches the secret material referenced as secret://name[@version].
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("secrets: fetcher is not initialised")
	}

	name, version, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	cacheKey := name + "@" + version
	f.mu.RLock()
	if value, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return value, nil
	}
	f.mu.RUnlock()

	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version)

	backoff := gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}

	var resp *secretmanagerpb.AccessSecretVersionResponse
	for attempt := 1; ; attempt++ {
		resp, err = f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: resource,
		})
		if err == nil {
			break
		}
		if attempt >= f.attempts || !retryable(err) {
			return "", fmt.Errorf("secrets: access %s: %w", name, err)
		}
		f.logger.Warn("secrets.fetch.retry",
			zap.String("secret", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return "", sleepErr
		}
	}

	value := string(resp.GetPayload().GetData())

	f.mu.Lock()
	f.cache[cacheKey] = value
	f.mu.Unlock()

	return value, nil
}

// Close releases the underlying client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

func parseReference(ref string) (name, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, refPrefix) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	body := strings.TrimPrefix(trimmed, refPrefix)
	body = strings.Trim(body, "/")
	if body == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrInvalidReference)
	}

	version = defaultVersion
	if idx := strings.LastIndexByte(body, '@'); idx >= 0 {
		version = strings.TrimSpace(body[idx+1:])
		body = body[:idx]
		if version == "" {
			return "", "", fmt.Errorf("%w: empty version", ErrInvalidReference)
		}
	}

	// Allow secret://group/name references; Secret Manager names are flat, so
	// path segments collapse into a dashed name.
	name = strings.ReplaceAll(strings.Trim(body, "/"), "/", "-")
	if name == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrInvalidReference)
	}
	return name, version, nil
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	}
	return false
}
