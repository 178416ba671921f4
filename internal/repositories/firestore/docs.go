package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/raileats/api/internal/platform/firestore"
)

// The helpers below route document operations through the transaction carried
// on the context when one is open, so services can compose repository calls
// into a single atomic commit.

func getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func createDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func setDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

func queryDocs(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}
