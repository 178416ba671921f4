package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultWriteTimeout = 30 * time.Second

var (
	errNilClient      = errors.New("storage: client is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errEmptyDocument  = errors.New("storage: document body is empty")
	errMissingInvoice = errors.New("storage: invoice number is required")
)

// DocumentStore persists rendered documents into a Cloud Storage bucket.
type DocumentStore struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

// DocumentStoreOption customises store behaviour.
type DocumentStoreOption func(*DocumentStore)

// WithWriteTimeout bounds individual object writes.
func WithWriteTimeout(timeout time.Duration) DocumentStoreOption {
	return func(s *DocumentStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewDocumentStore constructs a store bound to a single bucket.
func NewDocumentStore(client *storage.Client, bucket string, opts ...DocumentStoreOption) (*DocumentStore, error) {
	if client == nil {
		return nil, errNilClient
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}

	store := &DocumentStore{
		client:  client,
		bucket:  strings.TrimSpace(bucket),
		timeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put writes the document body under the given object name and returns the
// gs:// path of the stored object.
func (s *DocumentStore) Put(ctx context.Context, object, contentType string, body []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", errNilClient
	}
	object = strings.Trim(strings.TrimSpace(object), "/")
	if object == "" {
		return "", errInvalidObject
	}
	if len(body) == 0 {
		return "", errEmptyDocument
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(writeCtx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = "private, max-age=0"

	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize %s: %w", object, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// InvoiceObjectPath composes the canonical object key for an invoice document.
func InvoiceObjectPath(orderID, invoiceNumber string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errInvalidObject
	}
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return "", errMissingInvoice
	}
	return fmt.Sprintf("invoices/%s/%s.txt", orderID, sanitizeSegment(invoiceNumber)), nil
}

func sanitizeSegment(segment string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "-", "#", "-")
	return replacer.Replace(segment)
}
