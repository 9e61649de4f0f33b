package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/ecosync/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const qdrantScrollPage = 256

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host             string
	Port             int
	APIKey           string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS           bool   // Explicitly enable TLS without API Key
	CollectionPrefix string
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantVectorStore keeps embedding records in Qdrant.
//
// A Qdrant collection has one fixed vector size, while records of one kind
// may differ in dimensionality, so every (kind, dims) pair gets its own
// collection named <prefix>_<kind>_<dims>. Scan reads all collections of a
// kind and orders points by the "seq" payload (insertion time in ns).
// Writes are not part of the SQL transaction.
type QdrantVectorStore struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	prefix        string

	mu    sync.Mutex
	known map[string]bool
}

// NewQdrantVectorStore creates a Qdrant-backed VectorStore.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantVectorStore(cfg *QdrantConnectionConfig) (*QdrantVectorStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "ecosync"
	}

	return &QdrantVectorStore{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		prefix:        prefix,
		known:         make(map[string]bool),
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantVectorStore) Close() error {
	return r.conn.Close()
}

// collectionName returns the collection holding vectors of kind with dims components.
func (r *QdrantVectorStore) collectionName(kind domain.EmbeddingKind, dims int) string {
	return fmt.Sprintf("%s_%d", r.kindPrefix(kind), dims)
}

func (r *QdrantVectorStore) kindPrefix(kind domain.EmbeddingKind) string {
	return r.prefix + "_" + strings.ReplaceAll(string(kind), "-", "_")
}

// ensureCollection creates the collection if it doesn't exist
func (r *QdrantVectorStore) ensureCollection(ctx context.Context, name string, dims int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known[name] {
		return nil
	}

	if _, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		r.known[name] = true
		return nil
	}

	_, err := r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	r.known[name] = true
	return nil
}

// collectionsFor lists existing collections; an empty kind lists every
// collection owned by this store.
func (r *QdrantVectorStore) collectionsFor(ctx context.Context, kind domain.EmbeddingKind) ([]string, error) {
	resp, err := r.collectClient.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	prefix := r.prefix + "_"
	if kind != "" {
		prefix = r.kindPrefix(kind) + "_"
	}
	var names []string
	for _, c := range resp.GetCollections() {
		if strings.HasPrefix(c.GetName(), prefix) {
			names = append(names, c.GetName())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Put upserts the record as a new point.
func (r *QdrantVectorStore) Put(ctx context.Context, rec *domain.EmbeddingRecord) error {
	if !rec.Kind.Valid() {
		return fmt.Errorf("unknown embedding kind %q", rec.Kind)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("empty vector for content %s", rec.ContentID)
	}
	rec.Dims = len(rec.Vector)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Seq = uint64(rec.CreatedAt.UnixNano())

	name := r.collectionName(rec.Kind, rec.Dims)
	if err := r.ensureCollection(ctx, name, rec.Dims); err != nil {
		return err
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.New().String()},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: rec.Vector},
					},
				},
				Payload: map[string]*pb.Value{
					"owner_id":   {Kind: &pb.Value_StringValue{StringValue: rec.OwnerID}},
					"content_id": {Kind: &pb.Value_StringValue{StringValue: rec.ContentID}},
					"kind":       {Kind: &pb.Value_StringValue{StringValue: string(rec.Kind)}},
					"source":     {Kind: &pb.Value_StringValue{StringValue: rec.Source}},
					"seq":        {Kind: &pb.Value_IntegerValue{IntegerValue: int64(rec.Seq)}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Scan scrolls every collection of kind for the owner's points.
func (r *QdrantVectorStore) Scan(ctx context.Context, ownerID string, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error) {
	names, err := r.collectionsFor(ctx, kind)
	if err != nil {
		return nil, err
	}

	var records []domain.EmbeddingRecord
	for _, name := range names {
		batch, err := r.scrollOwner(ctx, name, ownerID, kind)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

func (r *QdrantVectorStore) scrollOwner(ctx context.Context, collection, ownerID string, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error) {
	limit := uint32(qdrantScrollPage)
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{keywordCondition("owner_id", ownerID)}},
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	}

	var records []domain.EmbeddingRecord
	for {
		resp, err := r.pointsClient.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to scroll %s: %w", collection, err)
		}
		for _, point := range resp.GetResult() {
			payload := point.GetPayload()
			vec := point.GetVectors().GetVector().GetData()
			records = append(records, domain.EmbeddingRecord{
				Seq:       uint64(payload["seq"].GetIntegerValue()),
				OwnerID:   payload["owner_id"].GetStringValue(),
				ContentID: payload["content_id"].GetStringValue(),
				Kind:      kind,
				Source:    payload["source"].GetStringValue(),
				Vector:    domain.Vector(vec),
				Dims:      len(vec),
			})
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			return records, nil
		}
		req.Offset = next
	}
}

// ExistsForContent counts points of contentID across the kind's collections.
func (r *QdrantVectorStore) ExistsForContent(ctx context.Context, contentID string, kind domain.EmbeddingKind) (bool, error) {
	names, err := r.collectionsFor(ctx, kind)
	if err != nil {
		return false, err
	}
	exact := true
	for _, name := range names {
		resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
			CollectionName: name,
			Filter:         &pb.Filter{Must: []*pb.Condition{keywordCondition("content_id", contentID)}},
			Exact:          &exact,
		})
		if err != nil {
			return false, fmt.Errorf("failed to count points in %s: %w", name, err)
		}
		if resp.GetResult().GetCount() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// DeleteByContentIDs deletes the points of the given posts from every collection.
func (r *QdrantVectorStore) DeleteByContentIDs(ctx context.Context, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	names, err := r.collectionsFor(ctx, "")
	if err != nil {
		return err
	}
	filter := &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: "content_id",
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: contentIDs}},
				},
			},
		},
	}}}
	wait := true
	for _, name := range names {
		_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
			CollectionName: name,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete points from %s: %w", name, err)
		}
	}
	return nil
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
