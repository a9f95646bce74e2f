package vector

import (
	"context"
	"fmt"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/andrew/chat-thread-search/pkg/models"
)

const (
	// qdrantUpsertBatch is the number of points sent per upsert request
	qdrantUpsertBatch = 100

	// qdrantTieSlack extra hits are requested so rows tied at the k-th score
	// are ordered here, not by Qdrant
	qdrantTieSlack = 16
)

// QdrantIndex mirrors an artifact's vectors into Qdrant and serves top-k
// queries from it. Every build is published into its own collection named
// "<alias>-<build_id>"; readers always query through the alias, which is
// switched to a new build only after all of its points are written. Point ids
// are row numbers, so hits map back to the artifact's row table.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	alias       string
	logger      *zap.Logger
}

// DialQdrant connects to the Qdrant gRPC endpoint at host:port
func DialQdrant(host string, port int, alias string, logger *zap.Logger) (*QdrantIndex, error) {
	if alias == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}
	return NewQdrantIndex(conn, alias, logger), nil
}

// NewQdrantIndex wraps an existing connection
func NewQdrantIndex(conn *grpc.ClientConn, alias string, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantIndex{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		alias:       alias,
		logger:      logger,
	}
}

// Close releases the gRPC connection
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// CollectionFor returns the collection a build is published into
func (q *QdrantIndex) CollectionFor(buildID string) string {
	return q.alias + "-" + buildID
}

// Verify checks that the alias serves the build described by meta. A missing
// alias is ErrIndexMissing; another build or a point count that differs from
// meta.Count is ErrIndexCorrupt.
func (q *QdrantIndex) Verify(ctx context.Context, meta Meta) error {
	target, ok, err := q.aliasTarget(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: qdrant alias %q not found, run build with --qdrant", models.ErrIndexMissing, q.alias)
	}
	if want := q.CollectionFor(meta.BuildID); target != want {
		return fmt.Errorf("%w: qdrant alias %q serves %q, local index is build %s", models.ErrIndexCorrupt, q.alias, target, meta.BuildID)
	}

	exact := true
	resp, err := q.points.Count(ctx, &qdrantclient.CountPoints{
		CollectionName: target,
		Exact:          &exact,
	})
	if err != nil {
		return fmt.Errorf("failed to count points: %w", err)
	}
	if n := resp.GetResult().GetCount(); n != uint64(meta.Count) {
		return fmt.Errorf("%w: meta count %d, qdrant collection %q holds %d points", models.ErrIndexCorrupt, meta.Count, target, n)
	}
	return nil
}

// Publish writes every row of a into the build's own collection, then points
// the alias at it and drops the collection it replaced. An empty artifact
// publishes nothing.
func (q *QdrantIndex) Publish(ctx context.Context, a *Artifact) error {
	if a.Meta.Count == 0 {
		q.logger.Info("skipping qdrant publish for empty index")
		return nil
	}

	name := q.CollectionFor(a.Meta.BuildID)
	if err := q.createCollection(ctx, name, a.Meta.Dim); err != nil {
		return err
	}
	if err := q.upsertRows(ctx, name, a); err != nil {
		return err
	}

	previous, err := q.switchAlias(ctx, name)
	if err != nil {
		return err
	}
	if previous != "" && previous != name {
		if _, err := q.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: previous}); err != nil {
			q.logger.Warn("failed to delete previous collection", zap.String("collection", previous), zap.Error(err))
		}
	}

	q.logger.Info("published index to qdrant",
		zap.String("alias", q.alias),
		zap.String("collection", name),
		zap.Int("points", a.Meta.Count),
	)
	return nil
}

func (q *QdrantIndex) upsertRows(ctx context.Context, name string, a *Artifact) error {
	wait := true
	batch := make([]*qdrantclient.PointStruct, 0, qdrantUpsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := q.points.Upsert(ctx, &qdrantclient.UpsertPoints{
			CollectionName: name,
			Wait:           &wait,
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
		q.logger.Debug("upserted points", zap.Int("count", len(batch)))
		batch = batch[:0]
		return nil
	}

	for row := 0; row < a.Meta.Count; row++ {
		rec := a.Rows[row]
		batch = append(batch, &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Num{Num: uint64(row)},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: append([]float32(nil), a.vectors.Vector(row)...)},
				},
			},
			Payload: map[string]*qdrantclient.Value{
				"id":       {Kind: &qdrantclient.Value_StringValue{StringValue: rec.ID}},
				"message":  {Kind: &qdrantclient.Value_StringValue{StringValue: rec.Text}},
				"build_id": {Kind: &qdrantclient.Value_StringValue{StringValue: a.Meta.BuildID}},
			},
		})
		if len(batch) >= qdrantUpsertBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// createCollection creates name, replacing a leftover from an earlier
// publish of the same build
func (q *QdrantIndex) createCollection(ctx context.Context, name string, dim int) error {
	exists, err := q.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		q.logger.Debug("deleting existing collection", zap.String("collection", name))
		if _, err := q.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: name}); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}

	_, err = q.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(dim),
					Distance: qdrantclient.Distance_Dot,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// switchAlias points the alias at name in a single request and returns the
// collection it served before, if any
func (q *QdrantIndex) switchAlias(ctx context.Context, name string) (string, error) {
	previous, hasAlias, err := q.aliasTarget(ctx)
	if err != nil {
		return "", err
	}

	var actions []*qdrantclient.AliasOperations
	if hasAlias {
		actions = append(actions, &qdrantclient.AliasOperations{
			Action: &qdrantclient.AliasOperations_DeleteAlias{
				DeleteAlias: &qdrantclient.DeleteAlias{AliasName: q.alias},
			},
		})
	} else {
		// a plain collection under the alias name blocks the alias
		legacy, err := q.collectionExists(ctx, q.alias)
		if err != nil {
			return "", err
		}
		if legacy {
			q.logger.Warn("replacing plain collection with alias", zap.String("collection", q.alias))
			if _, err := q.collections.Delete(ctx, &qdrantclient.DeleteCollection{CollectionName: q.alias}); err != nil {
				return "", fmt.Errorf("failed to delete collection: %w", err)
			}
		}
	}
	actions = append(actions, &qdrantclient.AliasOperations{
		Action: &qdrantclient.AliasOperations_CreateAlias{
			CreateAlias: &qdrantclient.CreateAlias{CollectionName: name, AliasName: q.alias},
		},
	})

	if _, err := q.collections.UpdateAliases(ctx, &qdrantclient.ChangeAliases{Actions: actions}); err != nil {
		return "", fmt.Errorf("failed to switch alias %q: %w", q.alias, err)
	}
	return previous, nil
}

func (q *QdrantIndex) aliasTarget(ctx context.Context) (string, bool, error) {
	resp, err := q.collections.ListAliases(ctx, &qdrantclient.ListAliasesRequest{})
	if err != nil {
		return "", false, fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == q.alias {
			return a.GetCollectionName(), true, nil
		}
	}
	return "", false, nil
}

func (q *QdrantIndex) collectionExists(ctx context.Context, name string) (bool, error) {
	collections, err := q.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range collections.GetCollections() {
		if col.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// Search queries through the alias. Vectors are unit length, so the Dot
// distance equals cosine similarity. Hits are re-sorted so equal scores break
// by row; that order is exact unless more than qdrantTieSlack rows tie at the
// k-th score.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}

	resp, err := q.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: q.alias,
		Vector:         query,
		Limit:          uint64(k + qdrantTieSlack),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		hits = append(hits, models.SearchHit{
			Row:   int(point.GetId().GetNum()),
			Score: point.GetScore(),
		})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}
