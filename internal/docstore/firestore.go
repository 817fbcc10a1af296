package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig selects the project and collections to use.
type FirestoreConfig struct {
	ProjectID         string
	CredentialsFile   string // empty uses application default credentials
	RegionsCollection string
	UsersCollection   string
}

// Firestore implements Store on Cloud Firestore.
type Firestore struct {
	client  *firestore.Client
	regions string
	users   string
	log     zerolog.Logger
}

// NewFirestore initialises a Firebase app and its Firestore client.
func NewFirestore(ctx context.Context, cfg FirestoreConfig, log zerolog.Logger) (*Firestore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firestore client: %w", err)
	}

	log.Info().Str("project", cfg.ProjectID).Str("regions", cfg.RegionsCollection).
		Msg("connected to firestore")

	return &Firestore{
		client:  client,
		regions: cfg.RegionsCollection,
		users:   cfg.UsersCollection,
		log:     log,
	}, nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// Watch opens a snapshot listener on the regions collection.
func (f *Firestore) Watch(ctx context.Context) Feed {
	ctx, cancel := context.WithCancel(ctx)
	return &snapshotFeed{
		ctx:    ctx,
		cancel: cancel,
		it:     f.client.Collection(f.regions).Snapshots(ctx),
	}
}

// Fetch reads every region document once.
func (f *Firestore) Fetch(ctx context.Context) ([]RawDocument, error) {
	iter := f.client.Collection(f.regions).Documents(ctx)
	defer iter.Stop()

	var docs []RawDocument
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", f.regions, err)
		}
		docs = append(docs, firestoreDoc{snap: doc})
	}
	return docs, nil
}

// UpdateRegion writes status, info and a server-side lastUpdate timestamp.
func (f *Firestore) UpdateRegion(ctx context.Context, id string, u RegionUpdate) error {
	_, err := f.client.Collection(f.regions).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: u.Status},
		{Path: "info", Value: u.Info},
		{Path: "lastUpdate", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return &ErrNotFound{Collection: f.regions, ID: id}
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", f.regions, id, err)
	}
	return nil
}

// UserRole reads users/{uid}.role.
func (f *Firestore) UserRole(ctx context.Context, uid string) (string, bool, error) {
	snap, err := f.client.Collection(f.users).Doc(uid).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", f.users, uid, err)
	}
	role, ok := snap.Data()["role"].(string)
	return role, ok, nil
}

type firestoreDoc struct {
	snap *firestore.DocumentSnapshot
}

func (d firestoreDoc) ID() string { return d.snap.Ref.ID }

func (d firestoreDoc) Decode(dst *region.Fields) error {
	return d.snap.DataTo(dst)
}

// querySnapshots is the part of *firestore.QuerySnapshotIterator the feed
// uses. Next and Stop must not run concurrently.
type querySnapshots interface {
	Next() (*firestore.QuerySnapshot, error)
	Stop()
}

// snapshotFeed adapts a snapshot iterator to Feed. Stop only cancels the
// context; the iterator itself is stopped by the goroutine calling Next once
// Next fails, so Stop never races an in-flight Next.
type snapshotFeed struct {
	ctx     context.Context
	cancel  context.CancelFunc
	it      querySnapshots
	release sync.Once
}

func (s *snapshotFeed) Next() ([]RawDocument, error) {
	qs, err := s.it.Next()
	if err != nil {
		s.release.Do(s.it.Stop)
		if err == iterator.Done || s.ctx.Err() != nil || status.Code(err) == codes.Canceled {
			return nil, ErrStopped
		}
		return nil, err
	}
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		s.release.Do(s.it.Stop)
		if errors.Is(err, context.Canceled) {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("read snapshot documents: %w", err)
	}
	docs := make([]RawDocument, len(snaps))
	for i, snap := range snaps {
		docs[i] = firestoreDoc{snap: snap}
	}
	return docs, nil
}

func (s *snapshotFeed) Stop() {
	s.cancel()
}
