package surrealdb

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/surrealdb/surrealdb.go"

	"github.com/kevinmichaelchen/mcp-discover/internal/config"
	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

type Client struct {
	db *sdk.DB
}

func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	db, err := sdk.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, sdk.Auth{
		Namespace: cfg.SurrealNS,
		Database:  cfg.SurrealDB,
		Username:  cfg.SurrealUser,
		Password:  cfg.SurrealPass,
	}); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("signing in: %w", err)
	}

	if err := db.Use(ctx, cfg.SurrealNS, cfg.SurrealDB); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("selecting ns/db: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.db.Close(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
DEFINE TABLE IF NOT EXISTS rejection SCHEMAFULL;

DEFINE FIELD IF NOT EXISTS repo_path    ON TABLE rejection TYPE string;
DEFINE FIELD IF NOT EXISTS last_checked ON TABLE rejection TYPE datetime;

DEFINE INDEX IF NOT EXISTS idx_repo_path ON TABLE rejection FIELDS repo_path;
`
	_, err := sdk.Query[any](ctx, c.db, schema, nil)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// InsertRejection appends a row. Rows are never updated, so the same
// repository may appear more than once across runs.
func (c *Client) InsertRejection(ctx context.Context, rec models.RejectionRecord) error {
	_, err := sdk.Query[any](ctx, c.db,
		`CREATE rejection CONTENT $data`,
		map[string]any{
			"data": map[string]any{
				"repo_path":    rec.RepoPath,
				"last_checked": rec.LastChecked.UTC(),
			},
		})
	if err != nil {
		return fmt.Errorf("inserting rejection for %s: %w", rec.RepoPath, err)
	}
	return nil
}

type rejectionRow struct {
	RepoPath    string `json:"repo_path"`
	LastChecked string `json:"last_checked"`
}

func (c *Client) Rejections(ctx context.Context) ([]models.RejectionRecord, error) {
	// Cast to string so decoding does not depend on the SDK's datetime type.
	results, err := sdk.Query[[]rejectionRow](ctx, c.db,
		`SELECT repo_path, <string> last_checked AS last_checked FROM rejection`, nil)
	if err != nil {
		return nil, fmt.Errorf("querying rejections: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	out := make([]models.RejectionRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.RejectionRecord{RepoPath: r.RepoPath}
		rec.LastChecked, _ = time.Parse(time.RFC3339Nano, r.LastChecked)
		out = append(out, rec)
	}
	return out, nil
}
