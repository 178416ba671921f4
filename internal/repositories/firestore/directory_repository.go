package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/raileats/api/internal/domain"
	pfirestore "github.com/raileats/api/internal/platform/firestore"
	"github.com/raileats/api/internal/repositories"
)

const (
	customersCollection   = "customers"
	vendorsCollection     = "vendors"
	stationsCollection    = "stations"
	trainsCollection      = "trains"
	menuItemsCollectionPattern = "vendors/%s/menuItems"
)

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type vendorDocument struct {
	Name      string `firestore:"name"`
	Email     string `firestore:"email,omitempty"`
	StationID string `firestore:"stationId"`
	GSTIN     string `firestore:"gstin,omitempty"`
	IsActive  bool   `firestore:"isActive"`
}

type stationDocument struct {
	Code string `firestore:"code"`
	Name string `firestore:"name"`
}

type trainDocument struct {
	Number string `firestore:"number"`
	Name   string `firestore:"name"`
}

type menuItemDocument struct {
	Name        string `firestore:"name"`
	Price       int64  `firestore:"price"`
	IsAvailable bool   `firestore:"isAvailable"`
}

// DirectoryRepository reads the reference entities orders are validated against.
// The directory collections are owned by the catalog service; this repository
// only ever reads them.
type DirectoryRepository struct {
	provider *pfirestore.Provider
}

// NewDirectoryRepository constructs a Firestore-backed directory reader.
func NewDirectoryRepository(provider *pfirestore.Provider) (*DirectoryRepository, error) {
	if provider == nil {
		return nil, errors.New("directory repository requires firestore provider")
	}
	return &DirectoryRepository{provider: provider}, nil
}

var _ repositories.DirectoryRepository = (*DirectoryRepository)(nil)

// FindCustomer loads a customer projection.
func (r *DirectoryRepository) FindCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	snap, err := r.get(ctx, customersCollection, customerID)
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("directory.customers.find", err)
	}
	var doc customerDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Customer{}, fmt.Errorf("firestore customers decode %s: %w", snap.Ref.ID, err)
	}
	return domain.Customer{
		ID:    snap.Ref.ID,
		Name:  doc.Name,
		Email: doc.Email,
		Phone: doc.Phone,
	}, nil
}

// FindVendor loads a vendor projection.
func (r *DirectoryRepository) FindVendor(ctx context.Context, vendorID string) (domain.Vendor, error) {
	snap, err := r.get(ctx, vendorsCollection, vendorID)
	if err != nil {
		return domain.Vendor{}, pfirestore.WrapError("directory.vendors.find", err)
	}
	var doc vendorDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Vendor{}, fmt.Errorf("firestore vendors decode %s: %w", snap.Ref.ID, err)
	}
	return domain.Vendor{
		ID:        snap.Ref.ID,
		Name:      doc.Name,
		Email:     doc.Email,
		StationID: doc.StationID,
		GSTIN:     doc.GSTIN,
		IsActive:  doc.IsActive,
	}, nil
}

// FindStation loads a station projection.
func (r *DirectoryRepository) FindStation(ctx context.Context, stationID string) (domain.Station, error) {
	snap, err := r.get(ctx, stationsCollection, stationID)
	if err != nil {
		return domain.Station{}, pfirestore.WrapError("directory.stations.find", err)
	}
	var doc stationDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Station{}, fmt.Errorf("firestore stations decode %s: %w", snap.Ref.ID, err)
	}
	return domain.Station{
		ID:   snap.Ref.ID,
		Code: doc.Code,
		Name: doc.Name,
	}, nil
}

// FindTrain loads a train projection.
func (r *DirectoryRepository) FindTrain(ctx context.Context, trainID string) (domain.Train, error) {
	snap, err := r.get(ctx, trainsCollection, trainID)
	if err != nil {
		return domain.Train{}, pfirestore.WrapError("directory.trains.find", err)
	}
	var doc trainDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Train{}, fmt.Errorf("firestore trains decode %s: %w", snap.Ref.ID, err)
	}
	return domain.Train{
		ID:     snap.Ref.ID,
		Number: doc.Number,
		Name:   doc.Name,
	}, nil
}

// FindMenuItem loads one menu entry from a vendor's menu subcollection.
func (r *DirectoryRepository) FindMenuItem(ctx context.Context, vendorID, menuItemID string) (domain.MenuItem, error) {
	vendor := strings.TrimSpace(vendorID)
	if vendor == "" {
		return domain.MenuItem{}, errors.New("directory repository: vendor id is required")
	}
	snap, err := r.get(ctx, fmt.Sprintf(menuItemsCollectionPattern, vendor), menuItemID)
	if err != nil {
		return domain.MenuItem{}, pfirestore.WrapError("directory.menu_items.find", err)
	}
	var doc menuItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.MenuItem{}, fmt.Errorf("firestore menu items decode %s: %w", snap.Ref.ID, err)
	}
	return domain.MenuItem{
		ID:          snap.Ref.ID,
		VendorID:    vendor,
		Name:        doc.Name,
		Price:       doc.Price,
		IsAvailable: doc.IsAvailable,
	}, nil
}

func (r *DirectoryRepository) get(ctx context.Context, collection, id string) (*firestore.DocumentSnapshot, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("directory repository not initialised")
	}
	docID := strings.TrimSpace(id)
	if docID == "" {
		return nil, errors.New("directory repository: document id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return getDoc(ctx, client.Collection(collection).Doc(docID))
}
