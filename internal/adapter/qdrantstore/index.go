package qdrantstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"shelfcheck/config"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

const (
	fieldEntryID = "entry_id"
	fieldStoreID = "store_id"
	fieldFileID  = "file_id"

	defaultBatchSize   = 100
	parallelBatches    = 4
	defaultCallTimeout = 5 * time.Second
)

// pointNamespace derives stable point UUIDs from catalog entry IDs.
var pointNamespace = uuid.MustParse("4f1c2b7e-9a0d-5c3e-8b61-2d7f0e9a4c15")

// Index is a VectorIndex backed by a Qdrant collection using cosine distance.
type Index struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	collection  string
	dimension   int
	batchSize   int
	timeout     time.Duration
	closer      func() error
}

// Dial connects to Qdrant over gRPC.
func Dial(cfg config.QdrantConfig) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: os.Getenv(cfg.APIKeyEnv),
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// New wraps a connected client. The collection is not touched until
// EnsureCollection is called.
func New(client *qdrant.Client, collection string, dimension, batchSize int, timeout time.Duration) *Index {
	conn := client.GetConnection()
	idx := NewWithClients(qdrant.NewPointsClient(conn), qdrant.NewCollectionsClient(conn), collection, dimension, batchSize, timeout)
	idx.closer = client.Close
	return idx
}

func NewWithClients(points qdrant.PointsClient, collections qdrant.CollectionsClient, collection string, dimension, batchSize int, timeout time.Duration) *Index {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Index{
		points:      points,
		collections: collections,
		collection:  collection,
		dimension:   dimension,
		batchSize:   batchSize,
		timeout:     timeout,
	}
}

// PointID maps a catalog entry ID to its Qdrant point UUID.
func PointID(entryID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(entryID)).String()
}

// EnsureCollection creates the collection and its keyword payload indexes
// when missing.
func (x *Index) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	exists, err := x.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: x.collection})
	if err != nil {
		return domain.RetrievalError("qdrant collection exists", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	log.Info().Str("collection", x.collection).Int("dimension", x.dimension).Msg("creating qdrant collection")
	_, err = x.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{
			Params: &qdrant.VectorParams{
				Size:     uint64(x.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("could not create collection %s: %w", x.collection, err)
	}

	wait := true
	fieldType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{fieldStoreID, fieldFileID} {
		_, err := x.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if err != nil {
			return fmt.Errorf("could not create field index %s: %w", field, err)
		}
	}
	return nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// Upsert writes points in batches, a few batches at a time.
func (x *Index) Upsert(ctx context.Context, items []port.VectorItem) error {
	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != x.dimension {
			return fmt.Errorf("vector dimension mismatch for %s: expected %d, got %d", item.ID, x.dimension, len(item.Vector))
		}
		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(item.ID)}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: item.Vector},
			}},
			Payload: map[string]*qdrant.Value{
				fieldEntryID: stringValue(item.ID),
				fieldStoreID: stringValue(item.StoreID),
				fieldFileID:  stringValue(item.FileID),
			},
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelBatches)
	for start := 0; start < len(points); start += x.batchSize {
		end := start + x.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()
			wait := true
			_, err := x.points.Upsert(callCtx, &qdrant.UpsertPoints{
				CollectionName: x.collection,
				Wait:           &wait,
				Points:         batch,
			})
			if err != nil {
				return domain.RetrievalError("qdrant upsert", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(id)}}
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	wait := true
	_, err := x.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return domain.RetrievalError("qdrant delete", err)
	}
	return nil
}

func storeFilter(storeID string) *qdrant.Filter {
	if storeID == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   fieldStoreID,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: storeID}},
				},
			},
		}},
	}
}

func (x *Index) Search(ctx context.Context, query []float32, storeID string, topK int) ([]port.VectorHit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", x.dimension, len(query))
	}
	if topK <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	resp, err := x.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: x.collection,
		Vector:         query,
		Filter:         storeFilter(storeID),
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayloadInclude(fieldEntryID),
	})
	if err != nil {
		return nil, domain.RetrievalError("qdrant search", err)
	}

	hits := make([]port.VectorHit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		id := p.GetPayload()[fieldEntryID].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, port.VectorHit{ID: id, Similarity: clamp(float64(p.GetScore()))})
	}
	return hits, nil
}

func clamp(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (x *Index) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	exact := true
	resp, err := x.points.Count(ctx, &qdrant.CountPoints{CollectionName: x.collection, Exact: &exact})
	if err != nil {
		return 0, domain.RetrievalError("qdrant count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (x *Index) Close() error {
	if x.closer == nil {
		return nil
	}
	return x.closer()
}
